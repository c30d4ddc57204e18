// Package store provides storage backends for NutriTrack.
//
// It implements the persistence gateway over PostgreSQL or SQLite, selected
// by DSN shape, plus an in-memory store for tests. All backends run their
// embedded migrations at open time.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/google/uuid"
)

// Store is the persistence gateway used by the workflow controller and API.
//
// SaveMealRecord assigns a fresh unique identifier before insert and returns
// it. GetMealRecordsInRange is inclusive of both boundary dates and returns
// records newest first. SaveStateSnapshot is a write-only audit trail; the
// controller never reads snapshots back.
type Store interface {
	SaveMealRecord(record models.MealRecord) (string, error)
	GetMealRecordsInRange(sender string, start, end time.Time) ([]models.MealRecord, error)
	SaveStateSnapshot(snapshot models.StateSnapshot) (string, error)
	SaveUserProfile(profile models.UserProfile) error
	GetUserProfile(sender string) (*models.UserProfile, error)
	CountMealRecords() (int, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports which database driver a DSN belongs to: "postgres"
// for URL-style or key=value connection strings, "sqlite3" for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// NewStore opens the backend matching the DSN type.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a map-backed Store used in tests. It mirrors the
// SQL backends' contracts: uuid ids, inclusive range bounds, newest-first
// ordering.
type InMemoryStore struct {
	mu        sync.Mutex
	meals     []models.MealRecord
	snapshots []models.StateSnapshot
	profiles  map[string]models.UserProfile
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]models.UserProfile)}
}

// SaveMealRecord stores the record with a generated id and timestamp.
func (s *InMemoryStore) SaveMealRecord(record models.MealRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = uuid.NewString()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.meals = append(s.meals, record)
	return record.ID, nil
}

// GetMealRecordsInRange returns the sender's records within [start, end],
// newest first.
func (s *InMemoryStore) GetMealRecordsInRange(sender string, start, end time.Time) ([]models.MealRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MealRecord
	for _, r := range s.meals {
		if r.Sender != sender {
			continue
		}
		if r.CreatedAt.Before(start) || r.CreatedAt.After(end) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SaveStateSnapshot stores an audit snapshot with a generated id.
func (s *InMemoryStore) SaveStateSnapshot(snapshot models.StateSnapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.ID = uuid.NewString()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	s.snapshots = append(s.snapshots, snapshot)
	return snapshot.ID, nil
}

// Snapshots returns all stored snapshots (for tests).
func (s *InMemoryStore) Snapshots() []models.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StateSnapshot(nil), s.snapshots...)
}

// SaveUserProfile stores or replaces the sender's profile.
func (s *InMemoryStore) SaveUserProfile(profile models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.UpdatedAt = time.Now().UTC()
	if existing, ok := s.profiles[profile.Sender]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = profile.UpdatedAt
	}
	s.profiles[profile.Sender] = profile
	return nil
}

// GetUserProfile returns the sender's profile, or nil if none exists.
func (s *InMemoryStore) GetUserProfile(sender string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[sender]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// CountMealRecords returns the number of stored meal records.
func (s *InMemoryStore) CountMealRecords() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meals), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
