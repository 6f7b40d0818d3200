package store

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

const schema = `
-- Pending/syncing/completed/conflicted mutations, in causal order
CREATE TABLE IF NOT EXISTS mutations (
    id             TEXT PRIMARY KEY,
    kind           TEXT NOT NULL,
    resource_kind  TEXT NOT NULL,
    payload        JSON NOT NULL,
    prior_payload  JSON,
    recorded_at    TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    retry_count    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_mutations_status ON mutations(status);
CREATE INDEX IF NOT EXISTS idx_mutations_recorded_at ON mutations(recorded_at);
CREATE INDEX IF NOT EXISTS idx_mutations_resource_kind ON mutations(resource_kind);

-- Durable conflict history, decoupled from mutation retention
CREATE TABLE IF NOT EXISTS conflicts (
    id              TEXT PRIMARY KEY,
    mutation_id     TEXT NOT NULL,
    field_conflicts JSON NOT NULL,
    created_at      TEXT NOT NULL,
    resolved_at     TEXT,
    resolution      JSON
);
CREATE INDEX IF NOT EXISTS idx_conflicts_mutation ON conflicts(mutation_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved_at);

-- Last-known-good snapshots of remote resources
CREATE TABLE IF NOT EXISTS cache_entries (
    resource_kind TEXT NOT NULL,
    resource_id   TEXT NOT NULL,
    data          JSON NOT NULL,
    updated_at    TEXT NOT NULL,
    expires_at    TEXT NOT NULL,
    PRIMARY KEY (resource_kind, resource_id)
);

-- Schema bookkeeping
CREATE TABLE IF NOT EXISTS schema_info (
    version INTEGER NOT NULL
);
`
