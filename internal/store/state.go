package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// IngestStateRepository tracks per-source retry bookkeeping. Failure counts
// only ever grow; a later success leaves the historical count in place so
// flaky sources stay visible.
type IngestStateRepository struct {
	db *DB
}

func NewIngestStateRepository(db *DB) *IngestStateRepository {
	return &IngestStateRepository{db: db}
}

// RecordFailure increments the retry count for the source and stores the
// triggering error text.
func (r *IngestStateRepository) RecordFailure(ctx context.Context, sourceID string, cause error) error {
	text := ""
	if cause != nil {
		text = cause.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_state (source_document_id, retry_count, last_error, succeeded, updated_at)
		VALUES (?, 1, ?, 0, ?)
		ON CONFLICT (source_document_id) DO UPDATE SET
			retry_count = ingest_state.retry_count + 1,
			last_error = excluded.last_error,
			succeeded = 0,
			updated_at = excluded.updated_at`,
		sourceID, text, domain.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// RecordSuccess marks the source as ingested. The accumulated retry count
// is kept.
func (r *IngestStateRepository) RecordSuccess(ctx context.Context, sourceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_state (source_document_id, retry_count, last_error, succeeded, updated_at)
		VALUES (?, 0, '', 1, ?)
		ON CONFLICT (source_document_id) DO UPDATE SET
			succeeded = 1,
			last_error = '',
			updated_at = excluded.updated_at`,
		sourceID, domain.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// RetryCount returns the accumulated failure count for the source, zero if
// the source has never failed.
func (r *IngestStateRepository) RetryCount(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT retry_count FROM ingest_state WHERE source_document_id = ?", sourceID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	return n, nil
}

// ExhaustedSourceIDs reports which of the given sources have failed at
// least maxAttempts times without a later success. Lookups are batched.
func (r *IngestStateRepository) ExhaustedSourceIDs(ctx context.Context, sourceIDs []string, maxAttempts int) (map[string]bool, error) {
	exhausted := make(map[string]bool)
	for _, batch := range chunk(sourceIDs) {
		query := fmt.Sprintf(`
			SELECT source_document_id FROM ingest_state
			WHERE succeeded = 0 AND retry_count >= ? AND source_document_id IN (%s)`,
			placeholders(len(batch)),
		)
		args := make([]any, 0, len(batch)+1)
		args = append(args, maxAttempts)
		for _, id := range batch {
			args = append(args, id)
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query exhausted sources: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			exhausted[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return exhausted, nil
}
