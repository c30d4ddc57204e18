// Package store provides storage backends for NutriTrack.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "dsn_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveMealRecord inserts a meal record with a freshly generated id.
func (s *PostgresStore) SaveMealRecord(record models.MealRecord) (string, error) {
	id := uuid.NewString()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO meal_entries (id, user_id, meal_name, meal_description, meal_calories, meal_protein, meal_carbs, meal_fat, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, record.Sender, record.Name, record.Description,
		record.Calories, record.ProteinGrams, record.CarbGrams, record.FatGrams, createdAt)
	if err != nil {
		slog.Error("PostgresStore SaveMealRecord failed", "error", err, "sender", record.Sender)
		return "", fmt.Errorf("failed to insert meal record: %w", err)
	}
	slog.Debug("PostgresStore SaveMealRecord succeeded", "id", id, "sender", record.Sender, "meal", record.Name)
	return id, nil
}

// GetMealRecordsInRange retrieves a sender's meal records within the
// inclusive [start, end] window, newest first.
func (s *PostgresStore) GetMealRecordsInRange(sender string, start, end time.Time) ([]models.MealRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, meal_name, meal_description, meal_calories, meal_protein, meal_carbs, meal_fat, created_at
		FROM meal_entries
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC`,
		sender, start, end)
	if err != nil {
		slog.Error("PostgresStore GetMealRecordsInRange query failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to query meal records: %w", err)
	}
	defer rows.Close()

	records, err := scanMealRecords(rows)
	if err != nil {
		slog.Error("PostgresStore GetMealRecordsInRange scan failed", "error", err, "sender", sender)
		return nil, err
	}
	slog.Debug("PostgresStore GetMealRecordsInRange succeeded", "sender", sender, "count", len(records))
	return records, nil
}

// SaveStateSnapshot inserts a write-only workflow audit row.
func (s *PostgresStore) SaveStateSnapshot(snapshot models.StateSnapshot) (string, error) {
	id := uuid.NewString()
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO workflow_states (id, sender, body, num_media, intent, response, db_status, final_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, snapshot.Sender, snapshot.Body, snapshot.NumMedia, snapshot.Intent,
		snapshot.Response, snapshot.DBStatus, snapshot.FinalState, createdAt)
	if err != nil {
		slog.Error("PostgresStore SaveStateSnapshot failed", "error", err, "sender", snapshot.Sender)
		return "", fmt.Errorf("failed to insert state snapshot: %w", err)
	}
	slog.Debug("PostgresStore SaveStateSnapshot succeeded", "id", id, "sender", snapshot.Sender)
	return id, nil
}

// SaveUserProfile stores or updates a sender's profile.
func (s *PostgresStore) SaveUserProfile(profile models.UserProfile) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO user_profiles (sender, name, goal, daily_calorie_target, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sender)
		DO UPDATE SET
			name = EXCLUDED.name,
			goal = EXCLUDED.goal,
			daily_calorie_target = EXCLUDED.daily_calorie_target,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at`,
		profile.Sender, profile.Name, profile.Goal, profile.DailyCalorieTarget, profile.Timezone, now, now)
	if err != nil {
		slog.Error("PostgresStore SaveUserProfile failed", "error", err, "sender", profile.Sender)
		return fmt.Errorf("failed to save user profile: %w", err)
	}
	slog.Debug("PostgresStore SaveUserProfile succeeded", "sender", profile.Sender)
	return nil
}

// GetUserProfile retrieves a sender's profile, or nil if none exists.
func (s *PostgresStore) GetUserProfile(sender string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.QueryRow(`
		SELECT sender, name, goal, daily_calorie_target, timezone, created_at, updated_at
		FROM user_profiles WHERE sender = $1`, sender).Scan(
		&profile.Sender, &profile.Name, &profile.Goal, &profile.DailyCalorieTarget,
		&profile.Timezone, &profile.CreatedAt, &profile.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetUserProfile not found", "sender", sender)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUserProfile failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	slog.Debug("PostgresStore GetUserProfile found", "sender", sender)
	return &profile, nil
}

// CountMealRecords returns the total number of stored meal records.
func (s *PostgresStore) CountMealRecords() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM meal_entries`).Scan(&count); err != nil {
		slog.Error("PostgresStore CountMealRecords failed", "error", err)
		return 0, fmt.Errorf("failed to count meal records: %w", err)
	}
	return count, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
