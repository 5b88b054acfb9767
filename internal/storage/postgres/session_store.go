package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// CreateSession inserts a new active session.
func (s *Store) CreateSession(ctx context.Context, session *types.CognitiveSession) error {
	if session == nil {
		return storage.ErrInvalidInput
	}
	if session.ID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	if session.Status == "" {
		session.Status = types.SessionActive
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	topicsJSON, metadataJSON, err := marshalSessionJSON(session)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_ns, ended_ns, platform, status,
			event_count, turn_count, topics, summary, quality_score, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.ID, session.StartedNS, nullInt64(session.EndedNS),
		nullString(session.Platform), string(session.Status),
		session.EventCount, session.TurnCount,
		topicsJSON, nullString(session.Summary), nullFloat(session.QualityScore),
		metadataJSON, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*types.CognitiveSession, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_ns, ended_ns, platform, status,
			event_count, turn_count, topics, summary, quality_score, metadata, created_at
		FROM sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get session: %w", err)
	}
	return session, nil
}

// CloseSession finalizes a session: sets the end timestamp, flips status to
// closed, and recomputes the aggregate counters from the event log so the
// stored totals are exact even if an in-flight increment was lost.
func (s *Store) CloseSession(ctx context.Context, id string, endedNS int64) error {
	if id == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $1,
			ended_ns = $2,
			event_count = (SELECT COUNT(*) FROM cognitive_events WHERE session_id = sessions.id),
			turn_count = (SELECT COALESCE(MAX(turn), 0) FROM cognitive_events WHERE session_id = sessions.id)
		WHERE id = $3`,
		string(types.SessionClosed), endedNS, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to close session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListSessions retrieves sessions with pagination, newest first.
func (s *Store) ListSessions(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.CognitiveSession], error) {
	opts.Normalize()

	var conds []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if opts.Platform != "" {
		add("platform = $%d", opts.Platform)
	}
	if opts.Status != "" {
		add("status = $%d", opts.Status)
	}
	if opts.SinceNS > 0 {
		add("started_ns >= $%d", opts.SinceNS)
	}
	if opts.UntilNS > 0 {
		add("started_ns < $%d", opts.UntilNS)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, started_ns, ended_ns, platform, status,
			event_count, turn_count, topics, summary, quality_score, metadata, created_at
		FROM sessions %s ORDER BY started_ns DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []types.CognitiveSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating sessions: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count sessions: %w", err)
	}

	return &storage.PaginatedResult[types.CognitiveSession]{
		Items:    sessions,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(sessions) < total,
	}, nil
}

// Stats aggregates capture counters. An empty sessionID means all-time.
// Label distributions are folded in Go from the denormalized columns since
// topics is a JSONB array per event.
func (s *Store) Stats(ctx context.Context, sessionID string) (*storage.CaptureStats, error) {
	stats := &storage.CaptureStats{
		SessionID:   sessionID,
		ByTopic:     map[string]int{},
		ByIntent:    map[string]int{},
		ByGutSignal: map[string]int{},
	}

	where := ""
	var args []interface{}
	if sessionID != "" {
		where = "WHERE session_id = $1"
		args = append(args, sessionID)
	}

	var first, last sql.NullInt64
	var totalBytes sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(byte_length), 0),
			COALESCE(MAX(turn), 0),
			COALESCE(SUM(CASE WHEN status = 'enriched' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'partial' THEN 1 ELSE 0 END), 0),
			MIN(timestamp_ns), MAX(timestamp_ns)
		FROM cognitive_events `+where, args...).
		Scan(&stats.EventCount, &totalBytes, &stats.TurnCount,
			&stats.EnrichedCount, &stats.PartialCount, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to aggregate event stats: %w", err)
	}
	stats.TotalBytes = totalBytes.Int64
	stats.FirstEventNS = first.Int64
	stats.LastEventNS = last.Int64

	if sessionID == "" {
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0)
			FROM sessions`).Scan(&stats.SessionCount, &stats.ActiveSessionCount); err != nil {
			return nil, fmt.Errorf("postgres: failed to aggregate session stats: %w", err)
		}
		// Turn counts live on sessions; the per-event MAX above only covers
		// a single session's numbering.
		var turnSum sql.NullInt64
		if err := s.db.QueryRowContext(ctx, `SELECT SUM(turn_count) FROM sessions`).Scan(&turnSum); err != nil {
			return nil, fmt.Errorf("postgres: failed to sum turn counts: %w", err)
		}
		stats.TurnCount = int(turnSum.Int64)
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coherence_moments`).Scan(&stats.MomentCount); err != nil {
			return nil, fmt.Errorf("postgres: failed to count moments: %w", err)
		}
	} else {
		stats.SessionCount = 1
	}

	return s.foldDistributions(ctx, stats, where, args)
}

// foldDistributions scans the denormalized label columns and accumulates the
// per-label counts into stats.
func (s *Store) foldDistributions(ctx context.Context, stats *storage.CaptureStats, where string, args []interface{}) (*storage.CaptureStats, error) {
	cond := "intent IS NOT NULL OR gut_signal IS NOT NULL OR topics IS NOT NULL"
	query := `SELECT intent, gut_signal, topics FROM cognitive_events `
	if where == "" {
		query += "WHERE " + cond
	} else {
		query += where + " AND (" + cond + ")"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query distributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var intent, gut, topicsJSON sql.NullString
		if err := rows.Scan(&intent, &gut, &topicsJSON); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan distribution row: %w", err)
		}
		if intent.Valid && intent.String != "" {
			stats.ByIntent[intent.String]++
		}
		if gut.Valid && gut.String != "" {
			stats.ByGutSignal[gut.String]++
		}
		if topicsJSON.Valid && topicsJSON.String != "" {
			var topics []string
			if err := json.Unmarshal([]byte(topicsJSON.String), &topics); err == nil {
				for _, topic := range topics {
					stats.ByTopic[topic]++
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating distributions: %w", err)
	}
	return stats, nil
}

// scanSession reads one sessions row.
func scanSession(row rowScanner) (*types.CognitiveSession, error) {
	var (
		session      types.CognitiveSession
		endedNS      sql.NullInt64
		platform     sql.NullString
		status       string
		topicsJSON   sql.NullString
		summary      sql.NullString
		qualityScore sql.NullFloat64
		metadataJSON sql.NullString
	)

	err := row.Scan(&session.ID, &session.StartedNS, &endedNS, &platform, &status,
		&session.EventCount, &session.TurnCount, &topicsJSON, &summary,
		&qualityScore, &metadataJSON, &session.CreatedAt)
	if err != nil {
		return nil, err
	}

	session.EndedNS = endedNS.Int64
	session.Platform = platform.String
	session.Status = types.SessionStatus(status)
	session.Summary = summary.String
	session.QualityScore = qualityScore.Float64

	if topicsJSON.Valid && topicsJSON.String != "" {
		_ = json.Unmarshal([]byte(topicsJSON.String), &session.Topics)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &session.Metadata)
	}
	return &session, nil
}

// marshalSessionJSON serialises the topics and metadata columns.
func marshalSessionJSON(session *types.CognitiveSession) (interface{}, interface{}, error) {
	var topicsJSON, metadataJSON interface{}

	if len(session.Topics) > 0 {
		b, err := json.Marshal(session.Topics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal topics: %w", err)
		}
		topicsJSON = string(b)
	}
	if session.Metadata != nil {
		b, err := json.Marshal(session.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(b)
	}
	return topicsJSON, metadataJSON, nil
}
