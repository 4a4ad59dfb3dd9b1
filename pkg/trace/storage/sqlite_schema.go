package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the trace ledger schema.
const Schema = `
-- Traces table
CREATE TABLE IF NOT EXISTS traces (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    metadata_json TEXT
);

-- Trace steps table. (trace_id, position) orders the chain.
CREATE TABLE IF NOT EXISTS trace_steps (
    trace_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    step_type TEXT NOT NULL,
    step_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    event_hash TEXT NOT NULL,
    chain_hash TEXT NOT NULL,
    PRIMARY KEY (trace_id, position)
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_trace_steps_created ON trace_steps(created_at);
CREATE INDEX IF NOT EXISTS idx_trace_steps_type ON trace_steps(step_type);
CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`
