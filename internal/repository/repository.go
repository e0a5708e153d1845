// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/watchpost/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("record already exists")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvent stores a raw event with home isolation.
func (r *SQLRepository) SaveEvent(ctx context.Context, homeID string, ev *domain.Event) error {
	if homeID == "" {
		return fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}
	if ev.ID == "" || ev.Track == "" {
		return fmt.Errorf("%w: event id and track are required", ErrInvalidInput)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	query := `
		INSERT INTO events (id, home_id, track, camera, ts, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, homeID, ev.Track, ev.Camera, ev.Timestamp,
		string(payload), time.Now().UTC(),
	)
	if r.isDuplicate(err) {
		return fmt.Errorf("%w: event %s", ErrDuplicate, ev.ID)
	}
	return err
}

// ListEventsByTrack returns a track's events at or after since, oldest first.
func (r *SQLRepository) ListEventsByTrack(ctx context.Context, homeID string, track string, since float64) ([]*domain.Event, error) {
	if homeID == "" {
		return nil, fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM events
		WHERE home_id = ? AND track = ? AND ts >= ?
		ORDER BY ts ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), homeID, track, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// SaveAssessment stores an assessment with home isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, homeID string, a *domain.Assessment) error {
	if homeID == "" {
		return fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}
	if a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, home_id, event_id, track, incident_id, probability,
			action, severity, suppression, timestamp, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, homeID, a.EventID, a.Track, int64(a.IncidentID), a.Probability,
		string(a.Decision.Action), a.Decision.Severity.String(), string(a.Suppression.Status),
		a.Timestamp, string(payload),
	)
	if r.isDuplicate(err) {
		return fmt.Errorf("%w: assessment %s", ErrDuplicate, a.ID)
	}
	return err
}

// GetAssessment retrieves an assessment by ID with home isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, homeID string, assessmentID string) (*domain.Assessment, error) {
	if homeID == "" {
		return nil, fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM assessments
		WHERE home_id = ? AND id = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), homeID, assessmentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var a domain.Assessment
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("failed to decode assessment: %w", err)
	}
	return &a, nil
}

// SaveContextRule upserts a context rule for a home.
func (r *SQLRepository) SaveContextRule(ctx context.Context, homeID string, rule *domain.ContextRule) error {
	if homeID == "" {
		return fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}
	if rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.HomeID = homeID
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	query := `
		INSERT INTO context_rules (
			id, home_id, name, description, version, expression,
			weight, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, home_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			weight = excluded.weight,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, homeID, rule.Name, rule.Description, rule.Version, rule.Expression,
		rule.Weight, rule.Reason, boolToInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetContextRule retrieves a context rule by ID with home isolation.
func (r *SQLRepository) GetContextRule(ctx context.Context, homeID string, ruleID string) (*domain.ContextRule, error) {
	if homeID == "" {
		return nil, fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, home_id, name, description, version, expression,
			   weight, reason, enabled, created_at, updated_at
		FROM context_rules
		WHERE home_id = ? AND id = ?
	`

	rule, err := scanContextRule(r.db.QueryRowContext(ctx, r.rebind(query), homeID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListContextRules returns the enabled context rules for a home.
func (r *SQLRepository) ListContextRules(ctx context.Context, homeID string) ([]*domain.ContextRule, error) {
	if homeID == "" {
		return nil, fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, home_id, name, description, version, expression,
			   weight, reason, enabled, created_at, updated_at
		FROM context_rules
		WHERE home_id = ? AND enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), homeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ContextRule
	for rows.Next() {
		rule, err := scanContextRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteContextRule soft-deletes a context rule by setting enabled = 0.
func (r *SQLRepository) DeleteContextRule(ctx context.Context, homeID string, ruleID string) error {
	if homeID == "" {
		return fmt.Errorf("%w: homeID is required", ErrInvalidInput)
	}

	query := `
		UPDATE context_rules
		SET enabled = 0, updated_at = ?
		WHERE home_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), homeID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContextRule(row rowScanner) (*domain.ContextRule, error) {
	var rule domain.ContextRule
	var description, reason sql.NullString
	var enabled int

	err := row.Scan(
		&rule.ID, &rule.HomeID, &rule.Name, &description, &rule.Version, &rule.Expression,
		&rule.Weight, &reason, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Reason = reason.String
	rule.Enabled = enabled == 1
	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if r.driver == "postgres" {
		return isPostgresDuplicate(err)
	}
	return isSQLiteDuplicate(err)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
