package textproc

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// The three AI stages each have their own small, closed output schema.
// Every response is unmarshalled strictly and validated before any field is
// trusted; a schema failure fails the whole source document for this run
// rather than salvaging partial output.

// SplitEntry is one discrete message produced by the filter-and-split stage.
type SplitEntry struct {
	PlainText         string `json:"plainText" validate:"required"`
	MarkdownText      string `json:"markdownText"`
	IsOneOfMany       bool   `json:"isOneOfMany"`
	IsInformative     bool   `json:"isInformative"`
	IsRelevant        bool   `json:"isRelevant"`
	ResponsibleEntity string `json:"responsibleEntity"`
}

// SplitResponse is the filter-and-split stage output.
type SplitResponse struct {
	Messages []SplitEntry `json:"messages" validate:"dive"`
}

// CategorizeResponse is the categorize stage output. Categories are
// validated against the closed enum: an unknown value fails the whole
// record, it is never silently dropped.
type CategorizeResponse struct {
	Categories          []domain.Category `json:"categories" validate:"dive,category"`
	Relations           []string          `json:"relations"`
	WithSpecificAddress bool              `json:"withSpecificAddress"`
	SpecificAddresses   []string          `json:"specificAddresses"`
	Coordinates         []string          `json:"coordinates" validate:"dive,latlng"`
	BusStops            []string          `json:"busStops"`
	CadastralProperties []string          `json:"cadastralProperties"`
	CityWide            bool              `json:"cityWide"`
	IsRelevant          bool              `json:"isRelevant"`
	NormalizedText      string            `json:"normalizedText"`
}

// ExtractTimespan mirrors the wire shape of a disruption timespan.
type ExtractTimespan struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ExtractPin is a point-like location reference on the wire.
type ExtractPin struct {
	Address   string            `json:"address" validate:"required"`
	Timespans []ExtractTimespan `json:"timespans"`
}

// ExtractStreet is a from/to street segment on the wire.
type ExtractStreet struct {
	Street    string            `json:"street" validate:"required"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Timespans []ExtractTimespan `json:"timespans"`
}

// ExtractCadastral is a cadastral parcel reference on the wire.
type ExtractCadastral struct {
	Identifier string            `json:"identifier" validate:"required"`
	Timespans  []ExtractTimespan `json:"timespans"`
}

// ExtractResponse is the location-extraction stage output.
type ExtractResponse struct {
	WithSpecificAddress bool               `json:"withSpecificAddress"`
	BusStops            []string           `json:"busStops"`
	CityWide            bool               `json:"cityWide"`
	Pins                []ExtractPin       `json:"pins" validate:"dive"`
	Streets             []ExtractStreet    `json:"streets" validate:"dive"`
	CadastralProperties []ExtractCadastral `json:"cadastralProperties" validate:"dive"`
}

// latlngRe matches the "lat, lng" pair format the categorize stage emits,
// e.g. "46.0569, 14.5058".
var latlngRe = regexp.MustCompile(`^-?\d+(?:\.\d+)?\s*,\s*-?\d+(?:\.\d+)?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Closed category enum. The uncategorized pseudo-category is rejected
	// here too: it exists only for UI display and must never round-trip.
	must(v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return domain.Category(fl.Field().String()).Valid()
	}))

	must(v.RegisterValidation("latlng", func(fl validator.FieldLevel) bool {
		return latlngRe.MatchString(fl.Field().String())
	}))

	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Stage identifies which AI call produced an invalid response.
type Stage string

const (
	StageSplit      Stage = "split"
	StageCategorize Stage = "categorize"
	StageExtract    Stage = "extract"
)

// ValidationError marks an AI response that failed schema validation.
// It is record-fatal for the source in this run and consumes a retry.
type ValidationError struct {
	Stage Stage
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s response failed validation: %v", e.Stage, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ParseSplitResponse decodes and validates a filter-and-split response.
func ParseSplitResponse(raw json.RawMessage) (*SplitResponse, error) {
	var resp SplitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ValidationError{Stage: StageSplit, Err: err}
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, &ValidationError{Stage: StageSplit, Err: err}
	}
	if resp.Messages == nil {
		resp.Messages = []SplitEntry{}
	}
	return &resp, nil
}

// ParseCategorizeResponse decodes and validates a categorize response.
func ParseCategorizeResponse(raw json.RawMessage) (*CategorizeResponse, error) {
	var resp CategorizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ValidationError{Stage: StageCategorize, Err: err}
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, &ValidationError{Stage: StageCategorize, Err: err}
	}
	resp.defaults()
	return &resp, nil
}

// ParseExtractResponse decodes and validates a location-extraction response.
// Omitted array fields become empty slices at this boundary, never nil.
func ParseExtractResponse(raw json.RawMessage) (*ExtractResponse, error) {
	var resp ExtractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ValidationError{Stage: StageExtract, Err: err}
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, &ValidationError{Stage: StageExtract, Err: err}
	}
	resp.defaults()
	return &resp, nil
}

func (r *CategorizeResponse) defaults() {
	if r.Categories == nil {
		r.Categories = []domain.Category{}
	}
	if r.Relations == nil {
		r.Relations = []string{}
	}
	if r.SpecificAddresses == nil {
		r.SpecificAddresses = []string{}
	}
	if r.Coordinates == nil {
		r.Coordinates = []string{}
	}
	if r.BusStops == nil {
		r.BusStops = []string{}
	}
	if r.CadastralProperties == nil {
		r.CadastralProperties = []string{}
	}
}

func (r *ExtractResponse) defaults() {
	if r.BusStops == nil {
		r.BusStops = []string{}
	}
	if r.Pins == nil {
		r.Pins = []ExtractPin{}
	}
	if r.Streets == nil {
		r.Streets = []ExtractStreet{}
	}
	if r.CadastralProperties == nil {
		r.CadastralProperties = []ExtractCadastral{}
	}
}
