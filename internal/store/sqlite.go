// Package store provides storage backends for NutriTrack.
//
// This file implements the SQLite-backed store, the default when no
// Postgres DSN is configured.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store based on provided options.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "dsn_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite database", "error", err, "dsn", cfg.DSN)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err, "dsn", cfg.DSN)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err, "dsn", cfg.DSN)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// SaveMealRecord inserts a meal record with a freshly generated id.
func (s *SQLiteStore) SaveMealRecord(record models.MealRecord) (string, error) {
	id := uuid.NewString()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO meal_entries (id, user_id, meal_name, meal_description, meal_calories, meal_protein, meal_carbs, meal_fat, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.Sender, record.Name, record.Description,
		record.Calories, record.ProteinGrams, record.CarbGrams, record.FatGrams, createdAt)
	if err != nil {
		slog.Error("SQLiteStore SaveMealRecord failed", "error", err, "sender", record.Sender)
		return "", fmt.Errorf("failed to insert meal record: %w", err)
	}
	slog.Debug("SQLiteStore SaveMealRecord succeeded", "id", id, "sender", record.Sender, "meal", record.Name)
	return id, nil
}

// GetMealRecordsInRange retrieves a sender's meal records within the
// inclusive [start, end] window, newest first.
func (s *SQLiteStore) GetMealRecordsInRange(sender string, start, end time.Time) ([]models.MealRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, meal_name, meal_description, meal_calories, meal_protein, meal_carbs, meal_fat, created_at
		FROM meal_entries
		WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC`,
		sender, start, end)
	if err != nil {
		slog.Error("SQLiteStore GetMealRecordsInRange query failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to query meal records: %w", err)
	}
	defer rows.Close()

	records, err := scanMealRecords(rows)
	if err != nil {
		slog.Error("SQLiteStore GetMealRecordsInRange scan failed", "error", err, "sender", sender)
		return nil, err
	}
	slog.Debug("SQLiteStore GetMealRecordsInRange succeeded", "sender", sender, "count", len(records))
	return records, nil
}

// SaveStateSnapshot inserts a write-only workflow audit row.
func (s *SQLiteStore) SaveStateSnapshot(snapshot models.StateSnapshot) (string, error) {
	id := uuid.NewString()
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO workflow_states (id, sender, body, num_media, intent, response, db_status, final_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, snapshot.Sender, snapshot.Body, snapshot.NumMedia, snapshot.Intent,
		snapshot.Response, snapshot.DBStatus, snapshot.FinalState, createdAt)
	if err != nil {
		slog.Error("SQLiteStore SaveStateSnapshot failed", "error", err, "sender", snapshot.Sender)
		return "", fmt.Errorf("failed to insert state snapshot: %w", err)
	}
	slog.Debug("SQLiteStore SaveStateSnapshot succeeded", "id", id, "sender", snapshot.Sender)
	return id, nil
}

// SaveUserProfile stores or updates a sender's profile.
func (s *SQLiteStore) SaveUserProfile(profile models.UserProfile) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO user_profiles (sender, name, goal, daily_calorie_target, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sender)
		DO UPDATE SET
			name = excluded.name,
			goal = excluded.goal,
			daily_calorie_target = excluded.daily_calorie_target,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		profile.Sender, profile.Name, profile.Goal, profile.DailyCalorieTarget, profile.Timezone, now, now)
	if err != nil {
		slog.Error("SQLiteStore SaveUserProfile failed", "error", err, "sender", profile.Sender)
		return fmt.Errorf("failed to save user profile: %w", err)
	}
	slog.Debug("SQLiteStore SaveUserProfile succeeded", "sender", profile.Sender)
	return nil
}

// GetUserProfile retrieves a sender's profile, or nil if none exists.
func (s *SQLiteStore) GetUserProfile(sender string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.QueryRow(`
		SELECT sender, name, goal, daily_calorie_target, timezone, created_at, updated_at
		FROM user_profiles WHERE sender = ?`, sender).Scan(
		&profile.Sender, &profile.Name, &profile.Goal, &profile.DailyCalorieTarget,
		&profile.Timezone, &profile.CreatedAt, &profile.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetUserProfile not found", "sender", sender)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUserProfile failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	slog.Debug("SQLiteStore GetUserProfile found", "sender", sender)
	return &profile, nil
}

// CountMealRecords returns the total number of stored meal records.
func (s *SQLiteStore) CountMealRecords() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM meal_entries`).Scan(&count); err != nil {
		slog.Error("SQLiteStore CountMealRecords failed", "error", err)
		return 0, fmt.Errorf("failed to count meal records: %w", err)
	}
	return count, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
