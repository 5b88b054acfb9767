package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Ensure *Store implements the full composition at compile time.
var _ storage.Store = (*Store)(nil)

// NewStore opens a SQLite database, configures WAL mode, and creates the
// schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode allows concurrent readers to proceed
	// without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Connections live for the lifetime of the store.

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of getting an immediate SQLITE_BUSY error when the
	// connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// eventColumns is the canonical SELECT column list for cognitive_events,
// matched by scanEvent.
const eventColumns = `
	id, session_id, timestamp_ns, direction, stage, method, request_id,
	parent_event_id, orphaned, turn, raw, parsed, byte_length, error,
	data_layer, light_layer, instinct_layer,
	coherence_signature, content_hash, embedding, embedding_model,
	platform, protocol, quality_score, cognitive_mode,
	status, layer_status, embedding_status, enrich_error, enriched_at,
	created_at`

// AppendEvent atomically inserts an event and bumps its session's aggregate
// counters in the same transaction.
func (s *Store) AppendEvent(ctx context.Context, event *types.CognitiveEvent) error {
	if event == nil {
		return storage.ErrInvalidInput
	}
	if event.ID == "" {
		return fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}
	if event.SessionID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Status == "" {
		event.Status = types.StatusRaw
	}
	if event.LayerStatus == "" {
		event.LayerStatus = types.EnrichmentPending
	}
	if event.EmbeddingStatus == "" {
		event.EmbeddingStatus = types.EnrichmentPending
	}
	if event.ByteLength == 0 {
		event.ByteLength = len(event.RawBytes)
	}

	dataJSON, lightJSON, instinctJSON, err := marshalLayers(event.Data, event.Light, event.Instinct)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cognitive_events (
			id, session_id, timestamp_ns, direction, stage, method, request_id,
			parent_event_id, orphaned, turn, raw, parsed, byte_length, error,
			data_layer, light_layer, instinct_layer,
			intent, topics, gut_signal, coherence_potential,
			coherence_signature, content_hash, embedding, embedding_model,
			platform, protocol, quality_score, cognitive_mode,
			status, layer_status, embedding_status, enrich_error, enriched_at,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.SessionID, event.TimestampNS, string(event.Direction), string(event.Stage),
		nullString(event.Method), nullString(event.RequestID), nullString(event.ParentEventID),
		event.Orphaned, event.Turn,
		event.RawBytes, nullBytes(event.Parsed), event.ByteLength, nullString(event.Error),
		dataJSON, lightJSON, instinctJSON,
		enrichmentIntent(event.Light), marshalTopics(event.Light), enrichmentGut(event.Instinct), enrichmentPotential(event.Instinct),
		nullString(event.CoherenceSignature), nullString(event.ContentHash),
		serializeEmbedding(event.Embedding), nullString(event.EmbeddingModel),
		nullString(event.Platform), nullString(event.Protocol),
		nullFloat(event.QualityScore), nullString(event.CognitiveMode),
		string(event.Status), string(event.LayerStatus), string(event.EmbeddingStatus),
		nullString(event.EnrichError), event.EnrichedAt,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	// Session aggregates derive from the event that triggered them; keeping
	// the update in the same transaction keeps the counters monotonic.
	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			event_count = event_count + 1,
			turn_count = CASE WHEN ? > turn_count THEN ? ELSE turn_count END
		WHERE id = ?`,
		event.Turn, event.Turn, event.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session aggregates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*types.CognitiveEvent, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM cognitive_events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// UpdateEnrichment writes the derived layers onto an existing event. Raw and
// correlation columns are deliberately absent from the UPDATE.
func (s *Store) UpdateEnrichment(ctx context.Context, id string, update storage.EnrichmentUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: event ID is required", storage.ErrInvalidInput)
	}

	dataJSON, lightJSON, instinctJSON, err := marshalLayers(update.Data, update.Light, update.Instinct)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cognitive_events SET
			data_layer = COALESCE(?, data_layer),
			light_layer = COALESCE(?, light_layer),
			instinct_layer = COALESCE(?, instinct_layer),
			intent = COALESCE(?, intent),
			topics = COALESCE(?, topics),
			gut_signal = COALESCE(?, gut_signal),
			coherence_potential = COALESCE(?, coherence_potential),
			coherence_signature = COALESCE(?, coherence_signature),
			content_hash = COALESCE(?, content_hash),
			embedding = COALESCE(?, embedding),
			embedding_model = COALESCE(?, embedding_model),
			status = ?,
			layer_status = ?,
			embedding_status = ?,
			enrich_error = ?,
			enriched_at = ?
		WHERE id = ?`,
		dataJSON, lightJSON, instinctJSON,
		enrichmentIntent(update.Light), marshalTopics(update.Light),
		enrichmentGut(update.Instinct), enrichmentPotential(update.Instinct),
		nullString(update.CoherenceSignature), nullString(update.ContentHash),
		serializeEmbedding(update.Embedding), nullString(update.EmbeddingModel),
		string(update.Status), string(update.LayerStatus), string(update.EmbeddingStatus),
		nullString(update.EnrichError), update.EnrichedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrichment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Timeline retrieves events in chronological order with filtering.
func (s *Store) Timeline(ctx context.Context, opts storage.TimelineOptions) (*storage.PaginatedResult[types.CognitiveEvent], error) {
	opts.Normalize()

	where, args := timelineWhere(opts)

	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}

	query := `SELECT ` + eventColumns + ` FROM cognitive_events ` + where +
		` ORDER BY timestamp_ns ` + order + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan timeline: %w", err)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM cognitive_events ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count timeline: %w", err)
	}

	return &storage.PaginatedResult[types.CognitiveEvent]{
		Items:    events,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(events) < total,
	}, nil
}

// timelineWhere builds the WHERE clause and argument list for Timeline.
func timelineWhere(opts storage.TimelineOptions) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if opts.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.SinceNS > 0 {
		conds = append(conds, "timestamp_ns >= ?")
		args = append(args, opts.SinceNS)
	}
	if opts.UntilNS > 0 {
		conds = append(conds, "timestamp_ns < ?")
		args = append(args, opts.UntilNS)
	}
	if opts.Method != "" {
		conds = append(conds, "method = ?")
		args = append(args, opts.Method)
	}
	if opts.Intent != "" {
		conds = append(conds, "intent = ?")
		args = append(args, opts.Intent)
	}
	if opts.GutSignal != "" {
		conds = append(conds, "gut_signal = ?")
		args = append(args, opts.GutSignal)
	}
	if opts.Topic != "" {
		// topics is a JSON array of strings; match the quoted label.
		conds = append(conds, "topics LIKE '%' || ? || '%'")
		args = append(args, `"`+opts.Topic+`"`)
	}
	if opts.MinCoherence > 0 {
		conds = append(conds, "coherence_potential >= ?")
		args = append(args, opts.MinCoherence)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent reads one cognitive_events row in eventColumns order.
func scanEvent(row rowScanner) (*types.CognitiveEvent, error) {
	var (
		event                                    types.CognitiveEvent
		direction, stage                         string
		method, requestID, parentID              sql.NullString
		parsed                                   []byte
		errText                                  sql.NullString
		dataJSON, lightJSON, instinctJSON        sql.NullString
		signature, contentHash                   sql.NullString
		embeddingBlob                            []byte
		embeddingModel                           sql.NullString
		platform, protocol                       sql.NullString
		qualityScore                             sql.NullFloat64
		cognitiveMode                            sql.NullString
		status, layerStatus, embeddingStatus     string
		enrichError                              sql.NullString
		enrichedAt                               sql.NullTime
	)

	err := row.Scan(
		&event.ID, &event.SessionID, &event.TimestampNS, &direction, &stage,
		&method, &requestID, &parentID, &event.Orphaned, &event.Turn,
		&event.RawBytes, &parsed, &event.ByteLength, &errText,
		&dataJSON, &lightJSON, &instinctJSON,
		&signature, &contentHash, &embeddingBlob, &embeddingModel,
		&platform, &protocol, &qualityScore, &cognitiveMode,
		&status, &layerStatus, &embeddingStatus, &enrichError, &enrichedAt,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Direction = types.Direction(direction)
	event.Stage = types.Stage(stage)
	event.Method = method.String
	event.RequestID = requestID.String
	event.ParentEventID = parentID.String
	if len(parsed) > 0 {
		event.Parsed = json.RawMessage(parsed)
	}
	event.Error = errText.String
	event.CoherenceSignature = signature.String
	event.ContentHash = contentHash.String
	event.EmbeddingModel = embeddingModel.String
	event.Platform = platform.String
	event.Protocol = protocol.String
	event.QualityScore = qualityScore.Float64
	event.CognitiveMode = cognitiveMode.String
	event.Status = types.EventStatus(status)
	event.LayerStatus = types.EnrichmentStatus(layerStatus)
	event.EmbeddingStatus = types.EnrichmentStatus(embeddingStatus)
	event.EnrichError = enrichError.String
	if enrichedAt.Valid {
		t := enrichedAt.Time
		event.EnrichedAt = &t
	}

	if dataJSON.Valid && dataJSON.String != "" {
		var layer types.DataLayer
		if err := json.Unmarshal([]byte(dataJSON.String), &layer); err == nil {
			event.Data = &layer
		}
	}
	if lightJSON.Valid && lightJSON.String != "" {
		var layer types.LightLayer
		if err := json.Unmarshal([]byte(lightJSON.String), &layer); err == nil {
			event.Light = &layer
		}
	}
	if instinctJSON.Valid && instinctJSON.String != "" {
		var layer types.InstinctLayer
		if err := json.Unmarshal([]byte(instinctJSON.String), &layer); err == nil {
			event.Instinct = &layer
		}
	}

	if len(embeddingBlob) > 0 {
		if vec, err := deserializeEmbedding(embeddingBlob); err == nil {
			event.Embedding = vec
		}
	}

	return &event, nil
}

// scanEvents drains a result set of eventColumns rows.
func scanEvents(rows *sql.Rows) ([]types.CognitiveEvent, error) {
	events := []types.CognitiveEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// marshalLayers serialises the three derived layers to JSON. Nil layers map
// to nil (SQL NULL) so COALESCE keeps existing columns untouched.
func marshalLayers(data *types.DataLayer, light *types.LightLayer, instinct *types.InstinctLayer) (interface{}, interface{}, interface{}, error) {
	var dataJSON, lightJSON, instinctJSON interface{}

	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal data layer: %w", err)
		}
		dataJSON = string(b)
	}
	if light != nil {
		b, err := json.Marshal(light)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal light layer: %w", err)
		}
		lightJSON = string(b)
	}
	if instinct != nil {
		b, err := json.Marshal(instinct)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal instinct layer: %w", err)
		}
		instinctJSON = string(b)
	}
	return dataJSON, lightJSON, instinctJSON, nil
}

// marshalTopics extracts the denormalized topics JSON array from a light
// layer, or nil when absent.
func marshalTopics(light *types.LightLayer) interface{} {
	if light == nil || len(light.Topics) == 0 {
		return nil
	}
	b, err := json.Marshal(light.Topics)
	if err != nil {
		return nil
	}
	return string(b)
}

func enrichmentIntent(light *types.LightLayer) interface{} {
	if light == nil || light.Intent == "" {
		return nil
	}
	return light.Intent
}

func enrichmentGut(instinct *types.InstinctLayer) interface{} {
	if instinct == nil || instinct.GutSignal == "" {
		return nil
	}
	return string(instinct.GutSignal)
}

func enrichmentPotential(instinct *types.InstinctLayer) interface{} {
	if instinct == nil {
		return nil
	}
	return instinct.CoherencePotential
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullFloat(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}
