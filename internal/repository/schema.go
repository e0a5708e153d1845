package repository

// Schema definitions for the Watchpost audit trail.
// Compatible with both SQLite and PostgreSQL.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    home_id TEXT NOT NULL,
    track TEXT NOT NULL,
    camera TEXT NOT NULL,
    ts DOUBLE PRECISION NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_home ON events(home_id);
CREATE INDEX IF NOT EXISTS idx_events_track ON events(home_id, track, ts);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    home_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    track TEXT NOT NULL,
    incident_id BIGINT NOT NULL,
    probability DOUBLE PRECISION NOT NULL,
    action TEXT NOT NULL,
    severity TEXT NOT NULL,
    suppression TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_home ON assessments(home_id);
CREATE INDEX IF NOT EXISTS idx_assessments_event ON assessments(home_id, event_id);
CREATE INDEX IF NOT EXISTS idx_assessments_severity ON assessments(home_id, severity);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(home_id, timestamp);
`

// schemaContextRules defines the context_rules table.
// Context rules tighten alert thresholds under the contextual strategy.
const schemaContextRules = `
CREATE TABLE IF NOT EXISTS context_rules (
    id TEXT NOT NULL,
    home_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 0.1,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, home_id)
);

CREATE INDEX IF NOT EXISTS idx_context_rules_home ON context_rules(home_id);
CREATE INDEX IF NOT EXISTS idx_context_rules_enabled ON context_rules(home_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaAssessments,
		schemaContextRules,
	}
}
