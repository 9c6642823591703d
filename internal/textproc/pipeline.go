package textproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/civicwatch/disruption-ingest/internal/domain"
	"github.com/civicwatch/disruption-ingest/internal/observability"
)

// ErrAllIrrelevant is returned when the split and categorize stages marked
// every part of a source irrelevant. It is not a failure: the orchestrator
// counts such sources as filtered, separately from true errors.
var ErrAllIrrelevant = errors.New("no relevant messages after filtering")

// Pipeline runs the three AI-assisted stages in fixed order: filter-and-split,
// categorize, extract locations. A schema validation failure at any stage
// aborts the remaining stages for that source.
type Pipeline struct {
	client  Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPipeline creates a text-processing pipeline over the given client.
func NewPipeline(client Client, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

// Result carries the message drafts plus the counts the run summary needs.
type Result struct {
	Messages []*domain.Message
	Split    int // entries the split stage produced
	Filtered int // entries dropped as irrelevant
}

// Process turns one source document into zero or more message drafts.
// Every split entry gets a categorize call, including ones split already
// marked irrelevant, so category information survives for triage; only
// entries both stages consider relevant reach extraction and persistence.
func (p *Pipeline) Process(ctx context.Context, src domain.SourceDocument) (*Result, error) {
	split, err := p.Split(ctx, src.RawText)
	if err != nil {
		return nil, err
	}
	p.metrics.SplitFanout.Observe(float64(len(split.Messages)))

	if len(split.Messages) == 0 {
		return nil, ErrAllIrrelevant
	}

	res := &Result{Split: len(split.Messages)}
	srcID := domain.EncodeSourceID(src.URL)

	for i, entry := range split.Messages {
		cat, err := p.Categorize(ctx, entry.PlainText)
		if err != nil {
			return nil, err
		}

		if !entry.IsRelevant || !cat.IsRelevant {
			res.Filtered++
			continue
		}

		extractInput := cat.NormalizedText
		if extractInput == "" {
			extractInput = entry.PlainText
		}
		ext, err := p.ExtractLocations(ctx, extractInput)
		if err != nil {
			return nil, err
		}

		res.Messages = append(res.Messages, buildMessage(src, srcID, i, entry, cat, ext))
	}

	if len(res.Messages) == 0 {
		return nil, ErrAllIrrelevant
	}
	return res, nil
}

// Split runs the filter-and-split stage.
func (p *Pipeline) Split(ctx context.Context, rawText string) (*SplitResponse, error) {
	raw, err := p.call(ctx, StageSplit, splitPrompt, rawText)
	if err != nil {
		return nil, err
	}
	resp, err := ParseSplitResponse(raw)
	if err != nil {
		p.metrics.AIRequests.WithLabelValues(string(StageSplit), "invalid").Inc()
		return nil, err
	}
	return resp, nil
}

// Categorize runs the categorize stage on one split message.
func (p *Pipeline) Categorize(ctx context.Context, plainText string) (*CategorizeResponse, error) {
	raw, err := p.call(ctx, StageCategorize, categorizePrompt, plainText)
	if err != nil {
		return nil, err
	}
	resp, err := ParseCategorizeResponse(raw)
	if err != nil {
		p.metrics.AIRequests.WithLabelValues(string(StageCategorize), "invalid").Inc()
		return nil, err
	}
	return resp, nil
}

// ExtractLocations runs the location-extraction stage on normalized text.
func (p *Pipeline) ExtractLocations(ctx context.Context, text string) (*ExtractResponse, error) {
	raw, err := p.call(ctx, StageExtract, extractPrompt, text)
	if err != nil {
		return nil, err
	}
	resp, err := ParseExtractResponse(raw)
	if err != nil {
		p.metrics.AIRequests.WithLabelValues(string(StageExtract), "invalid").Inc()
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) call(ctx context.Context, stage Stage, prompt, input string) ([]byte, error) {
	start := time.Now()
	raw, err := p.client.Complete(ctx, prompt, input)
	p.metrics.AIDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.AIRequests.WithLabelValues(string(stage), "error").Inc()
		return nil, fmt.Errorf("%s stage: %w", stage, err)
	}
	p.metrics.AIRequests.WithLabelValues(string(stage), "success").Inc()
	return raw, nil
}

// buildMessage assembles a message draft from the three stage outputs.
// The extract stage is authoritative for structured locations; explicit
// coordinates from categorize become pre-resolved pins.
func buildMessage(src domain.SourceDocument, srcID string, idx int, entry SplitEntry, cat *CategorizeResponse, ext *ExtractResponse) *domain.Message {
	msg := &domain.Message{
		ID:                fmt.Sprintf("%s-m%d", srcID, idx),
		Text:              entry.PlainText,
		PlainText:         cat.NormalizedText,
		MarkdownText:      entry.MarkdownText,
		Categories:        cat.Categories,
		Relations:         cat.Relations,
		IsRelevant:        true,
		SourceDocumentID:  srcID,
		SourceURL:         src.URL,
		Locality:          src.Locality,
		TimespanStart:     src.TimespanStart,
		TimespanEnd:       src.TimespanEnd,
		CityWide:          ext.CityWide || cat.CityWide,
		ResponsibleEntity: entry.ResponsibleEntity,
		Pins:              make([]domain.Pin, 0, len(ext.Pins)+len(cat.Coordinates)),
		Streets:           make([]domain.StreetSection, 0, len(ext.Streets)),
		BusStops:          mergeStops(ext.BusStops, cat.BusStops),
		CadastralProperties: make([]domain.CadastralProperty, 0,
			len(ext.CadastralProperties)+len(cat.CadastralProperties)),
		IngestErrors: []domain.IngestError{},
	}
	if msg.PlainText == "" {
		msg.PlainText = entry.PlainText
	}
	if src.CityWide != nil {
		msg.CityWide = *src.CityWide
	}

	for _, pin := range ext.Pins {
		msg.Pins = append(msg.Pins, domain.Pin{
			Address:   pin.Address,
			Timespans: toTimespans(pin.Timespans),
		})
	}

	// Literal coordinates in the announcement skip geocoding entirely.
	for i, coord := range cat.Coordinates {
		pt, ok := ParseLatLng(coord)
		if !ok {
			continue
		}
		address := coord
		if i < len(cat.SpecificAddresses) {
			address = cat.SpecificAddresses[i]
		}
		msg.Pins = append(msg.Pins, domain.Pin{
			Address:     address,
			Coordinates: &pt,
			Timespans:   []domain.Timespan{},
		})
	}

	for _, street := range ext.Streets {
		msg.Streets = append(msg.Streets, domain.StreetSection{
			Street:    street.Street,
			From:      street.From,
			To:        street.To,
			Timespans: toTimespans(street.Timespans),
		})
	}

	for _, cp := range ext.CadastralProperties {
		msg.CadastralProperties = append(msg.CadastralProperties, domain.CadastralProperty{
			Identifier: cp.Identifier,
			Timespans:  toTimespans(cp.Timespans),
		})
	}
	for _, id := range cat.CadastralProperties {
		if !containsCadastral(msg.CadastralProperties, id) {
			msg.CadastralProperties = append(msg.CadastralProperties, domain.CadastralProperty{
				Identifier: id,
				Timespans:  []domain.Timespan{},
			})
		}
	}

	return msg
}

// ParseLatLng parses a schema-validated "lat, lng" string into a point.
func ParseLatLng(s string) (domain.Point, bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return domain.Point{}, false
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLng != nil {
		return domain.Point{}, false
	}
	return domain.Point{Lat: lat, Lng: lng}, true
}

func toTimespans(spans []ExtractTimespan) []domain.Timespan {
	out := make([]domain.Timespan, len(spans))
	for i, ts := range spans {
		out[i] = domain.NewTimespan(ts.Start, ts.End)
	}
	return out
}

func mergeStops(primary, secondary []string) []string {
	out := make([]string, 0, len(primary)+len(secondary))
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	for _, s := range primary {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range secondary {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func containsCadastral(props []domain.CadastralProperty, id string) bool {
	for _, p := range props {
		if p.Identifier == id {
			return true
		}
	}
	return false
}
