// Package sqlite provides the SQLite implementation of the storage
// interfaces. It is the default backend: a single WAL-mode database file
// holding the append-only event log, sessions, moments, and the embedding
// cache.
package sqlite

// Schema contains the SQL statements to create the database schema.
// Intent, topics, gut signal, and coherence potential are denormalized out
// of the layer JSON into their own columns so timeline filters and stats
// group-bys stay indexable.
const Schema = `
-- Cognitive events: the append-only capture log
CREATE TABLE IF NOT EXISTS cognitive_events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    timestamp_ns INTEGER NOT NULL,
    direction TEXT NOT NULL,
    stage TEXT NOT NULL,
    method TEXT,
    request_id TEXT,
    parent_event_id TEXT,
    orphaned INTEGER NOT NULL DEFAULT 0,
    turn INTEGER NOT NULL DEFAULT 0,

    -- Raw capture (immutable after insert)
    raw BLOB NOT NULL,
    parsed TEXT,
    byte_length INTEGER NOT NULL,
    error TEXT,

    -- Derived layers (JSON, written once by enrichment)
    data_layer TEXT,
    light_layer TEXT,
    instinct_layer TEXT,

    -- Denormalized enrichment fields for filtering and stats
    intent TEXT,
    topics TEXT,
    gut_signal TEXT,
    coherence_potential REAL,

    coherence_signature TEXT,
    content_hash TEXT,
    embedding BLOB,
    embedding_model TEXT,

    platform TEXT,
    protocol TEXT,
    quality_score REAL,
    cognitive_mode TEXT,

    -- Enrichment status tracking
    status TEXT NOT NULL DEFAULT 'raw',
    layer_status TEXT NOT NULL DEFAULT 'pending',
    embedding_status TEXT NOT NULL DEFAULT 'pending',
    enrich_error TEXT,
    enriched_at TIMESTAMP,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_session_time ON cognitive_events(session_id, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_time ON cognitive_events(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_method ON cognitive_events(method);
CREATE INDEX IF NOT EXISTS idx_events_signature ON cognitive_events(coherence_signature);
CREATE INDEX IF NOT EXISTS idx_events_content_hash ON cognitive_events(content_hash);
CREATE INDEX IF NOT EXISTS idx_events_gut_signal ON cognitive_events(gut_signal);
CREATE INDEX IF NOT EXISTS idx_events_status ON cognitive_events(status);

-- Sessions: one row per client-host connection
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    started_ns INTEGER NOT NULL,
    ended_ns INTEGER,
    platform TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    event_count INTEGER NOT NULL DEFAULT 0,
    turn_count INTEGER NOT NULL DEFAULT 0,
    topics TEXT,
    summary TEXT,
    quality_score REAL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_ns);
CREATE INDEX IF NOT EXISTS idx_sessions_platform_status ON sessions(platform, status);

-- Coherence moments: append-only detection results
CREATE TABLE IF NOT EXISTS coherence_moments (
    id TEXT PRIMARY KEY,
    detected_ns INTEGER NOT NULL,
    event_ids TEXT NOT NULL,
    platforms TEXT,
    moment_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    description TEXT,
    window_ns INTEGER,
    signature TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_moments_detected ON coherence_moments(detected_ns);
CREATE INDEX IF NOT EXISTS idx_moments_type ON coherence_moments(moment_type);

-- Embedding cache: one vector per distinct content hash
CREATE TABLE IF NOT EXISTS embedding_cache (
    content_hash TEXT PRIMARY KEY,
    preview TEXT,
    embedding BLOB NOT NULL,
    model TEXT NOT NULL,
    dimension INTEGER NOT NULL,
    event_id TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
