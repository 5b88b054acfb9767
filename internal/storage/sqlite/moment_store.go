package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/ucw/internal/storage"
	"github.com/scrypster/ucw/pkg/types"
)

// AppendMoment inserts a coherence moment. Moments are immutable; there is
// deliberately no update path.
func (s *Store) AppendMoment(ctx context.Context, moment *types.CoherenceMoment) error {
	if moment == nil {
		return storage.ErrInvalidInput
	}
	if moment.ID == "" {
		return fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}
	if len(moment.EventIDs) == 0 {
		return fmt.Errorf("%w: moment must reference at least one event", storage.ErrInvalidInput)
	}
	if moment.Confidence < 0 || moment.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f outside [0,1]", storage.ErrInvalidInput, moment.Confidence)
	}
	if moment.CreatedAt.IsZero() {
		moment.CreatedAt = time.Now()
	}

	eventIDsJSON, err := json.Marshal(moment.EventIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal event IDs: %w", err)
	}

	var platformsJSON, metadataJSON interface{}
	if len(moment.Platforms) > 0 {
		b, err := json.Marshal(moment.Platforms)
		if err != nil {
			return fmt.Errorf("failed to marshal platforms: %w", err)
		}
		platformsJSON = string(b)
	}
	if moment.Metadata != nil {
		b, err := json.Marshal(moment.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO coherence_moments (id, detected_ns, event_ids, platforms,
			moment_type, confidence, description, window_ns, signature, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		moment.ID, moment.DetectedNS, string(eventIDsJSON), platformsJSON,
		moment.CoherenceType, moment.Confidence, nullString(moment.Description),
		moment.WindowNS, nullString(moment.Signature), metadataJSON, moment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert moment: %w", err)
	}
	return nil
}

// ListMoments retrieves moments with pagination, newest first.
func (s *Store) ListMoments(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.CoherenceMoment], error) {
	opts.Normalize()

	var conds []string
	var args []interface{}
	if opts.SinceNS > 0 {
		conds = append(conds, "detected_ns >= ?")
		args = append(args, opts.SinceNS)
	}
	if opts.UntilNS > 0 {
		conds = append(conds, "detected_ns < ?")
		args = append(args, opts.UntilNS)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := `
		SELECT id, detected_ns, event_ids, platforms, moment_type, confidence,
			description, window_ns, signature, metadata, created_at
		FROM coherence_moments ` + where + ` ORDER BY detected_ns DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list moments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	moments := []types.CoherenceMoment{}
	for rows.Next() {
		moment, err := scanMoment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan moment: %w", err)
		}
		moments = append(moments, *moment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating moments: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coherence_moments `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count moments: %w", err)
	}

	return &storage.PaginatedResult[types.CoherenceMoment]{
		Items:    moments,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(moments) < total,
	}, nil
}

// scanMoment reads one coherence_moments row.
func scanMoment(row rowScanner) (*types.CoherenceMoment, error) {
	var (
		moment        types.CoherenceMoment
		eventIDsJSON  string
		platformsJSON sql.NullString
		description   sql.NullString
		windowNS      sql.NullInt64
		signature     sql.NullString
		metadataJSON  sql.NullString
	)

	err := row.Scan(&moment.ID, &moment.DetectedNS, &eventIDsJSON, &platformsJSON,
		&moment.CoherenceType, &moment.Confidence, &description, &windowNS,
		&signature, &metadataJSON, &moment.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventIDsJSON), &moment.EventIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event IDs: %w", err)
	}
	if platformsJSON.Valid && platformsJSON.String != "" {
		_ = json.Unmarshal([]byte(platformsJSON.String), &moment.Platforms)
	}
	moment.Description = description.String
	moment.WindowNS = windowNS.Int64
	moment.Signature = signature.String
	if metadataJSON.Valid && metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &moment.Metadata)
	}
	return &moment, nil
}
