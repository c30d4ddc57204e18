package models

// APIStatus enumerates the status field of every JSON API response.
type APIStatus string

const (
	StatusSuccess APIStatus = "success"
	StatusError   APIStatus = "error"
)

// APIResponse is the uniform JSON envelope returned by every HTTP endpoint,
// including the webhook acknowledgement.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success builds a success response with an optional result payload.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: StatusSuccess, Result: result}
}

// SuccessWithMessage builds a success response carrying a human-readable note.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: StatusSuccess, Message: message, Result: result}
}

// Error builds an error response with a human-readable cause.
func Error(message string) APIResponse {
	return APIResponse{Status: StatusError, Error: message}
}
