package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// SourceRepository reads and writes crawled source documents.
type SourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Upsert stores doc, replacing any earlier crawl of the same URL. The row
// id is derived from the URL so re-crawls stay idempotent.
func (r *SourceRepository) Upsert(ctx context.Context, doc *domain.SourceDocument) error {
	categories, err := json.Marshal(doc.PrecomputedCategories)
	if err != nil {
		return fmt.Errorf("marshal precomputed categories: %w", err)
	}

	var geometry sql.NullString
	if len(doc.PrecomputedGeometry) > 0 {
		geometry = sql.NullString{String: string(doc.PrecomputedGeometry), Valid: true}
	}

	var cityWide sql.NullBool
	if doc.CityWide != nil {
		cityWide = sql.NullBool{Bool: *doc.CityWide, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO source_documents (
			id, url, title, raw_text, source_type, locality,
			published_at, crawled_at, timespan_start, timespan_end,
			city_wide, precomputed_geometry, precomputed_categories
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			raw_text = excluded.raw_text,
			source_type = excluded.source_type,
			locality = excluded.locality,
			published_at = excluded.published_at,
			crawled_at = excluded.crawled_at,
			timespan_start = excluded.timespan_start,
			timespan_end = excluded.timespan_end,
			city_wide = excluded.city_wide,
			precomputed_geometry = excluded.precomputed_geometry,
			precomputed_categories = excluded.precomputed_categories`,
		domain.EncodeSourceID(doc.URL), doc.URL, doc.Title, doc.RawText,
		doc.SourceType, doc.Locality, doc.PublishedAt.UTC(), doc.CrawledAt.UTC(),
		nullableTime(doc.TimespanStart), nullableTime(doc.TimespanEnd),
		cityWide, geometry, string(categories),
	)
	if err != nil {
		return fmt.Errorf("upsert source document: %w", err)
	}
	return nil
}

// ListByType returns the newest documents of the given source type, most
// recently published first. limit <= 0 means no limit.
func (r *SourceRepository) ListByType(ctx context.Context, sourceType string, limit int) ([]*domain.SourceDocument, error) {
	query := `
		SELECT url, title, raw_text, source_type, locality,
		       published_at, crawled_at, timespan_start, timespan_end,
		       city_wide, precomputed_geometry, precomputed_categories
		FROM source_documents
		WHERE source_type = ?
		ORDER BY published_at DESC`
	args := []any{sourceType}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list source documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.SourceDocument
	for rows.Next() {
		doc, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanSource(rows *sql.Rows) (*domain.SourceDocument, error) {
	var (
		doc        domain.SourceDocument
		start, end sql.NullTime
		cityWide   sql.NullBool
		geometry   sql.NullString
		categories string
	)
	err := rows.Scan(
		&doc.URL, &doc.Title, &doc.RawText, &doc.SourceType, &doc.Locality,
		&doc.PublishedAt, &doc.CrawledAt, &start, &end,
		&cityWide, &geometry, &categories,
	)
	if err != nil {
		return nil, fmt.Errorf("scan source document: %w", err)
	}

	if start.Valid {
		t := start.Time.UTC()
		doc.TimespanStart = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		doc.TimespanEnd = &t
	}
	if cityWide.Valid {
		doc.CityWide = &cityWide.Bool
	}
	if geometry.Valid && geometry.String != "" {
		doc.PrecomputedGeometry = json.RawMessage(geometry.String)
	}
	if err := json.Unmarshal([]byte(categories), &doc.PrecomputedCategories); err != nil {
		return nil, fmt.Errorf("decode precomputed categories: %w", err)
	}
	return &doc, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
