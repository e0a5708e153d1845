// Package domain defines the core interfaces and types for Watchpost.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for the audit trail and rule storage.
// All methods require homeID for strict per-premises isolation.
type Repository interface {
	// Event operations
	SaveEvent(ctx context.Context, homeID string, ev *Event) error
	ListEventsByTrack(ctx context.Context, homeID string, track string, since float64) ([]*Event, error)

	// Assessment operations
	SaveAssessment(ctx context.Context, homeID string, a *Assessment) error
	GetAssessment(ctx context.Context, homeID string, assessmentID string) (*Assessment, error)

	// Context rule operations
	SaveContextRule(ctx context.Context, homeID string, rule *ContextRule) error
	GetContextRule(ctx context.Context, homeID string, ruleID string) (*ContextRule, error)
	ListContextRules(ctx context.Context, homeID string) ([]*ContextRule, error)
	DeleteContextRule(ctx context.Context, homeID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}
