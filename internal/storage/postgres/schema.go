// Package postgres provides the PostgreSQL implementation of the storage
// interfaces. It is the scale-out backend: events and the embedding cache
// live in JSONB/BYTEA columns, and similarity search uses a pgvector column
// with an ivfflat cosine index when the extension is available.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent.
const Schema = `
-- Cognitive events: the append-only capture log
CREATE TABLE IF NOT EXISTS cognitive_events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    timestamp_ns BIGINT NOT NULL,
    direction TEXT NOT NULL,
    stage TEXT NOT NULL,
    method TEXT,
    request_id TEXT,
    parent_event_id TEXT,
    orphaned BOOLEAN NOT NULL DEFAULT FALSE,
    turn INTEGER NOT NULL DEFAULT 0,

    -- Raw capture (immutable after insert)
    raw BYTEA NOT NULL,
    parsed JSONB,
    byte_length INTEGER NOT NULL,
    error TEXT,

    -- Derived layers (written once by enrichment)
    data_layer JSONB,
    light_layer JSONB,
    instinct_layer JSONB,

    -- Denormalized enrichment fields for filtering and stats
    intent TEXT,
    topics JSONB,
    gut_signal TEXT,
    coherence_potential REAL,

    coherence_signature TEXT,
    content_hash TEXT,
    embedding BYTEA,
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
    started_ns BIGINT NOT NULL,
    ended_ns BIGINT,
    platform TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    event_count INTEGER NOT NULL DEFAULT 0,
    turn_count INTEGER NOT NULL DEFAULT 0,
    topics JSONB,
    summary TEXT,
    quality_score REAL,
    metadata JSONB,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_ns);
CREATE INDEX IF NOT EXISTS idx_sessions_platform_status ON sessions(platform, status);

-- Coherence moments: append-only detection results
CREATE TABLE IF NOT EXISTS coherence_moments (
    id TEXT PRIMARY KEY,
    detected_ns BIGINT NOT NULL,
    event_ids JSONB NOT NULL,
    platforms JSONB,
    moment_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    description TEXT,
    window_ns BIGINT,
    signature TEXT,
    metadata JSONB,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_moments_detected ON coherence_moments(detected_ns);
CREATE INDEX IF NOT EXISTS idx_moments_type ON coherence_moments(moment_type);

-- Embedding cache: one vector per distinct content hash
CREATE TABLE IF NOT EXISTS embedding_cache (
    content_hash TEXT PRIMARY KEY,
    preview TEXT,
    embedding BYTEA NOT NULL,
    model TEXT NOT NULL,
    dimension INTEGER NOT NULL,
    event_id TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// MigrationPgvector adds the vector column and ANN index to cognitive_events.
// Only applied when the vector extension is available. Safe to run multiple
// times.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'cognitive_events' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE cognitive_events ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- ivfflat requires at least one row to exist; guard with a DO block.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_events_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM cognitive_events WHERE embedding_vec IS NOT NULL LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_events_vec_cosine ON cognitive_events USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
