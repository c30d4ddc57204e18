package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

// scanMealRecords drains a meal_entries result set. Column order must match
// the SELECT lists in postgres.go and sqlite.go.
func scanMealRecords(rows *sql.Rows) ([]models.MealRecord, error) {
	var records []models.MealRecord
	for rows.Next() {
		var r models.MealRecord
		if err := rows.Scan(&r.ID, &r.Sender, &r.Name, &r.Description,
			&r.Calories, &r.ProteinGrams, &r.CarbGrams, &r.FatGrams, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan meal record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meal record rows: %w", err)
	}
	return records, nil
}
