package models

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ToolCall represents a function call requested by the LLM during a
// tool-use round.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the name and raw JSON arguments of a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the structured outcome handed back to the LLM after a tool
// executes.
type ToolResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// dateFormatRegex matches ISO calendar dates (YYYY-MM-DD) as supplied by the
// model when it infers a summary window.
var dateFormatRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// GetMealsToolParams are the arguments the summary model supplies when it
// calls the get_meals tool. The sender is injected server-side and is never
// model-controlled.
type GetMealsToolParams struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Validate checks that both window boundaries are well-formed dates.
func (p GetMealsToolParams) Validate() error {
	if err := validateDateFormat(p.StartDate); err != nil {
		return fmt.Errorf("invalid start_date: %w", err)
	}
	if err := validateDateFormat(p.EndDate); err != nil {
		return fmt.Errorf("invalid end_date: %w", err)
	}
	return nil
}

func validateDateFormat(date string) error {
	if date == "" {
		return fmt.Errorf("date is required")
	}
	if !dateFormatRegex.MatchString(date) {
		return fmt.Errorf("date must be in YYYY-MM-DD format, got %q", date)
	}
	return nil
}
