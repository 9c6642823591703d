package domain

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb/geojson"
)

// SourceDocument is one raw announcement as produced by an external crawler.
// Immutable once created; derived messages reference it via EncodeSourceID(URL).
type SourceDocument struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	RawText       string     `json:"raw_text"`
	SourceType    string     `json:"source_type"`
	PublishedAt   time.Time  `json:"published_at"`
	CrawledAt     time.Time  `json:"crawled_at"`
	Locality      string     `json:"locality"`
	TimespanStart *time.Time `json:"timespan_start,omitempty"`
	TimespanEnd   *time.Time `json:"timespan_end,omitempty"`
	CityWide      *bool      `json:"city_wide,omitempty"`

	// Some crawlers pre-extract geometry and categories (e.g. machine-readable
	// municipal feeds). Geometry stays raw here: the boundary filter must be
	// able to fail open on syntactically invalid input instead of losing the
	// source at decode time.
	PrecomputedGeometry   json.RawMessage `json:"precomputed_geometry,omitempty"`
	PrecomputedCategories []Category      `json:"precomputed_categories,omitempty"`
}

// IngestErrorType grades diagnostics attached to a message.
type IngestErrorType string

const (
	IngestWarning   IngestErrorType = "warning"
	IngestErr       IngestErrorType = "error"
	IngestException IngestErrorType = "exception"
)

// IngestError is a structured, user-facing-safe diagnostic attached to a
// message rather than raised.
type IngestError struct {
	Text string          `json:"text"`
	Type IngestErrorType `json:"type"`
}

// Timespan is a start/end pair describing when a disruption is active.
// Start and End keep the localized display strings exactly as extracted
// (e.g. "20.01.2026 08:00"); StartsAt/EndsAt carry best-effort parsed
// instants and may be nil when parsing fails.
type Timespan struct {
	Start    string     `json:"start"`
	End      string     `json:"end"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// Pin is a point-like location reference attached to a message.
type Pin struct {
	Address     string     `json:"address"`
	Coordinates *Point     `json:"coordinates,omitempty"`
	Timespans   []Timespan `json:"timespans"`
}

// Point is a WGS-84 latitude/longitude coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// StreetSection is a from/to segment of a named street affected by a disruption.
type StreetSection struct {
	Street          string     `json:"street"`
	From            string     `json:"from"`
	FromCoordinates *Point     `json:"from_coordinates,omitempty"`
	To              string     `json:"to"`
	ToCoordinates   *Point     `json:"to_coordinates,omitempty"`
	Timespans       []Timespan `json:"timespans"`
}

// CadastralProperty is a parcel identified by a cadastral registry code.
type CadastralProperty struct {
	Identifier string     `json:"identifier"`
	Timespans  []Timespan `json:"timespans"`
}

// Message is the unit of public output: one discrete, geocoded disruption
// derived from a source document. A single source may yield zero or more
// messages because the split stage can fan out.
//
// Invariants: Categories is a subset of the closed Category enum; Slug, once
// non-empty, never changes; FinalizedAt is set at most once, only after a
// successful full pipeline run.
type Message struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	PlainText    string     `json:"plain_text"`
	MarkdownText string     `json:"markdown_text,omitempty"`
	Categories   []Category `json:"categories"`
	Relations    []string   `json:"relations,omitempty"`
	IsRelevant   bool       `json:"is_relevant"`

	Slug             string `json:"slug"`
	SourceDocumentID string `json:"source_document_id"`
	SourceURL        string `json:"source_url,omitempty"`
	Locality         string `json:"locality"`

	TimespanStart *time.Time `json:"timespan_start,omitempty"`
	TimespanEnd   *time.Time `json:"timespan_end,omitempty"`
	CityWide      bool       `json:"city_wide"`

	Geometry          *geojson.FeatureCollection `json:"geometry,omitempty"`
	ResponsibleEntity string                     `json:"responsible_entity,omitempty"`

	Pins                []Pin               `json:"pins"`
	Streets             []StreetSection     `json:"streets"`
	BusStops            []string            `json:"bus_stops"`
	CadastralProperties []CadastralProperty `json:"cadastral_properties"`

	IngestErrors []IngestError `json:"ingest_errors"`
	RetryCount   int           `json:"retry_count"`
	FinalizedAt  *time.Time    `json:"finalized_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// AddWarning appends a warning-grade ingest error to the message.
func (m *Message) AddWarning(text string) {
	m.IngestErrors = append(m.IngestErrors, IngestError{Text: text, Type: IngestWarning})
}

// AddException appends an exception-grade ingest error to the message.
func (m *Message) AddException(text string) {
	m.IngestErrors = append(m.IngestErrors, IngestError{Text: text, Type: IngestException})
}

// RunSummary aggregates one ingest run for operator-facing reporting.
type RunSummary struct {
	Total           int        `json:"total"`
	TooOld          int        `json:"too_old"`
	WithinBounds    int        `json:"within_bounds"`
	OutsideBounds   int        `json:"outside_bounds"`
	Ingested        int        `json:"ingested"`
	AlreadyIngested int        `json:"already_ingested"`
	Filtered        int        `json:"filtered"`
	Failed          int        `json:"failed"`
	Errors          []RunError `json:"errors"`
}

// RunError records one failed source for the run summary detail list.
type RunError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}
