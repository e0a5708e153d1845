package domain

import "time"

// Config holds the complete Watchpost configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Reasoning holds the threat model parameters. Strategy inside it picks
	// how thresholds react to context:
	// - "static": configured thresholds only
	// - "contextual": context rules tighten thresholds for risky situations
	Reasoning ReasoningConfig `json:"reasoning" mapstructure:"reasoning"`

	// DefaultExplain is used when a request does not ask for a level
	DefaultExplain ExplainLevel `json:"defaultExplain" mapstructure:"default_explain"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// WorkerConfig controls the asynchronous bus consumer.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Homes to subscribe for. Empty subscribes globally.
	Homes []string `json:"homes" mapstructure:"homes"`

	// PruneInterval is how often stale incidents are dropped, in seconds.
	PruneInterval int `json:"pruneInterval" mapstructure:"prune_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"serviceName" mapstructure:"service_name"`
	ExporterType string  `json:"exporterType" mapstructure:"exporter_type"` // stdout, otlp
	Endpoint     string  `json:"endpoint" mapstructure:"endpoint"`           // host:port of the OTLP/HTTP collector
	Insecure     bool    `json:"insecure" mapstructure:"insecure"`
	SampleRatio  float64 `json:"sampleRatio" mapstructure:"sample_ratio"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
// Uses the static strategy by default.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:           TierCommunity,
		Reasoning:      DefaultReasoningConfig(),
		DefaultExplain: ExplainSummary,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./watchpost.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:       true,
			PruneInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "watchpost",
			ExporterType: "stdout",
			SampleRatio:  1.0,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
// Pro defaults to the contextual strategy.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Reasoning.Strategy = StrategyContextual
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "watchpost",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.Tracing.ExporterType = "otlp"
	cfg.Tracing.Endpoint = "localhost:4318"
	cfg.Tracing.Insecure = true
	cfg.Tracing.SampleRatio = 0.2
	return cfg
}
