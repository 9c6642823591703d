package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// ErrMessageNotFound is returned when an operation targets a message id
// with no persisted row.
var ErrMessageNotFound = errors.New("message not found")

// MessageRepository persists derived messages. Queryable fields live in
// native columns; everything else goes through FieldNormalizer into the
// payload column.
type MessageRepository struct {
	db   *DB
	norm FieldNormalizer
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// messagePayload is the stored shape of the non-column message fields.
type messagePayload struct {
	Text                string                     `json:"text"`
	PlainText           string                     `json:"plainText,omitempty"`
	MarkdownText        string                     `json:"markdownText,omitempty"`
	Relations           []string                   `json:"relations,omitempty"`
	IsRelevant          bool                       `json:"isRelevant"`
	Geometry            string                     `json:"geometry,omitempty"`
	ResponsibleEntity   string                     `json:"responsibleEntity,omitempty"`
	Pins                []domain.Pin               `json:"pins"`
	Streets             []domain.StreetSection     `json:"streets"`
	BusStops            []string                   `json:"busStops"`
	CadastralProperties []domain.CadastralProperty `json:"cadastralProperties"`
	IngestErrors        []domain.IngestError       `json:"ingestErrors"`
	RetryCount          int                        `json:"retryCount"`
}

// Upsert writes msg, replacing any earlier row with the same id. Slug and
// finalized_at are deliberately not touched on replace: both are set once
// through AssignSlug and MarkFinalized and survive reprocessing.
func (r *MessageRepository) Upsert(ctx context.Context, msg *domain.Message) error {
	fields, err := r.norm.Normalize(map[string]any{
		"categories":          msg.Categories,
		"timespanStart":       msg.TimespanStart,
		"timespanEnd":         msg.TimespanEnd,
		"createdAt":           msg.CreatedAt,
		"geometry":            msg.Geometry,
		"pins":                msg.Pins,
		"streets":             msg.Streets,
		"busStops":            msg.BusStops,
		"cadastralProperties": msg.CadastralProperties,
		"ingestErrors":        msg.IngestErrors,
		"responsibleEntity":   msg.ResponsibleEntity,
	})
	if err != nil {
		return err
	}

	now := domain.Now().UTC()

	payload := messagePayload{
		Text:              msg.Text,
		PlainText:         msg.PlainText,
		MarkdownText:      msg.MarkdownText,
		IsRelevant:        msg.IsRelevant,
		ResponsibleEntity: msg.ResponsibleEntity,
		RetryCount:        msg.RetryCount,
	}
	payload.Relations = msg.Relations
	payload.Geometry, _ = fields["geometry"].(string)
	payload.Pins = asSlice[domain.Pin](fields["pins"])
	payload.Streets = asSlice[domain.StreetSection](fields["streets"])
	payload.BusStops = asSlice[string](fields["busStops"])
	payload.CadastralProperties = asSlice[domain.CadastralProperty](fields["cadastralProperties"])
	payload.IngestErrors = asSlice[domain.IngestError](fields["ingestErrors"])

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}

	categories, err := json.Marshal(fields["categories"])
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	// createdAt normalizes to ServerTime; only a policy change would leave
	// a literal time here.
	createdAt := now
	if t, ok := fields["createdAt"].(time.Time); ok {
		createdAt = t.UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, source_document_id, source_url, locality, slug,
			categories, timespan_start, timespan_end, city_wide,
			finalized_at, created_at, payload
		) VALUES (?, ?, ?, ?, '', ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_url = excluded.source_url,
			locality = excluded.locality,
			categories = excluded.categories,
			timespan_start = excluded.timespan_start,
			timespan_end = excluded.timespan_end,
			city_wide = excluded.city_wide,
			payload = excluded.payload`,
		msg.ID, msg.SourceDocumentID, msg.SourceURL, msg.Locality,
		string(categories), timespanValue(fields["timespanStart"]), timespanValue(fields["timespanEnd"]),
		msg.CityWide, createdAt, string(body),
	)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// ExistingSourceIDs reports which of the given source document ids already
// have at least one persisted message. Lookups are batched.
func (r *MessageRepository) ExistingSourceIDs(ctx context.Context, sourceIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	for _, batch := range chunk(sourceIDs) {
		query := fmt.Sprintf(
			"SELECT DISTINCT source_document_id FROM messages WHERE source_document_id IN (%s)",
			placeholders(len(batch)),
		)
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query existing source ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return existing, nil
}

// SlugExists reports whether any message already carries the slug.
func (r *MessageRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM messages WHERE slug = ?", slug,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return n > 0, nil
}

// AssignSlug sets the message's slug inside a transaction and returns the
// slug the message ends up with. If a slug was already assigned by an
// earlier run the existing one is returned and the candidate is discarded,
// so assignment is idempotent per document.
func (r *MessageRepository) AssignSlug(ctx context.Context, messageID, candidate string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin slug transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT slug FROM messages WHERE id = ?", messageID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("assign slug to %s: %w", messageID, ErrMessageNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read current slug: %w", err)
	}
	if current != "" {
		return current, nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET slug = ? WHERE id = ?", candidate, messageID,
	); err != nil {
		return "", fmt.Errorf("write slug: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit slug: %w", err)
	}
	return candidate, nil
}

// MarkFinalized stamps the message's finalization time. A second call is a
// no-op; the first stamp wins.
func (r *MessageRepository) MarkFinalized(ctx context.Context, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE messages SET finalized_at = ? WHERE id = ? AND finalized_at IS NULL",
		domain.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark finalized: %w", err)
	}
	return nil
}

// Get loads one message by id.
func (r *MessageRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_document_id, source_url, locality, slug,
		       categories, timespan_start, timespan_end, city_wide,
		       finalized_at, created_at, payload
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

// ListBySource loads all messages derived from one source document.
func (r *MessageRepository) ListBySource(ctx context.Context, sourceID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_document_id, source_url, locality, slug,
		       categories, timespan_start, timespan_end, city_wide,
		       finalized_at, created_at, payload
		FROM messages WHERE source_document_id = ? ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		msg        domain.Message
		categories string
		start, end sql.NullTime
		finalized  sql.NullTime
		body       string
	)
	err := row.Scan(
		&msg.ID, &msg.SourceDocumentID, &msg.SourceURL, &msg.Locality, &msg.Slug,
		&categories, &start, &end, &msg.CityWide,
		&finalized, &msg.CreatedAt, &body,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(categories), &msg.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if start.Valid {
		t := start.Time.UTC()
		msg.TimespanStart = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		msg.TimespanEnd = &t
	}
	if finalized.Valid {
		t := finalized.Time.UTC()
		msg.FinalizedAt = &t
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	var payload messagePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	msg.Text = payload.Text
	msg.PlainText = payload.PlainText
	msg.MarkdownText = payload.MarkdownText
	msg.Relations = payload.Relations
	msg.IsRelevant = payload.IsRelevant
	msg.ResponsibleEntity = payload.ResponsibleEntity
	msg.Pins = payload.Pins
	msg.Streets = payload.Streets
	msg.BusStops = payload.BusStops
	msg.CadastralProperties = payload.CadastralProperties
	msg.IngestErrors = payload.IngestErrors
	msg.RetryCount = payload.RetryCount

	if payload.Geometry != "" {
		fc, err := geojson.UnmarshalFeatureCollection([]byte(payload.Geometry))
		if err != nil {
			return nil, fmt.Errorf("decode message geometry: %w", err)
		}
		msg.Geometry = fc
	}
	return &msg, nil
}

func timespanValue(v any) sql.NullTime {
	t, ok := v.(time.Time)
	if !ok {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func asSlice[T any](v any) []T {
	s, _ := v.([]T)
	if s == nil {
		return []T{}
	}
	return s
}
