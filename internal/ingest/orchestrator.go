package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/civicwatch/disruption-ingest/internal/domain"
	"github.com/civicwatch/disruption-ingest/internal/observability"
	"github.com/civicwatch/disruption-ingest/internal/textproc"
)

// SourceLister selects the source documents for a run.
type SourceLister interface {
	ListByType(ctx context.Context, sourceType string, limit int) ([]*domain.SourceDocument, error)
}

// MessageStore is the slice of message persistence the orchestrator writes.
type MessageStore interface {
	Upsert(ctx context.Context, msg *domain.Message) error
	ExistingSourceIDs(ctx context.Context, sourceIDs []string) (map[string]bool, error)
	MarkFinalized(ctx context.Context, messageID string) error
}

// StateStore records per-source retry bookkeeping.
type StateStore interface {
	RecordFailure(ctx context.Context, sourceID string, cause error) error
	RecordSuccess(ctx context.Context, sourceID string) error
	ExhaustedSourceIDs(ctx context.Context, sourceIDs []string, maxAttempts int) (map[string]bool, error)
}

// TextProcessor splits, categorizes, and extracts locations from raw text.
type TextProcessor interface {
	Process(ctx context.Context, src domain.SourceDocument) (*textproc.Result, error)
}

// GeoResolver resolves a message's location references to geometry.
type GeoResolver interface {
	Resolve(ctx context.Context, msg *domain.Message) error
}

// SlugAssigner mints and persists the message's public identifier.
type SlugAssigner interface {
	Assign(ctx context.Context, messageID string) (string, error)
}

// Publisher emits finalized messages to downstream consumers. Optional.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.Message) error
}

// Orchestrator drives one ingestion run end to end.
type Orchestrator struct {
	sources   SourceLister
	messages  MessageStore
	state     StateStore
	processor TextProcessor
	geocoder  GeoResolver
	slugs     SlugAssigner
	publisher Publisher

	age      *AgeFilter
	boundary *BoundaryFilter
	gate     *DeduplicationGate

	dryRun  bool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Sources   SourceLister
	Messages  MessageStore
	State     StateStore
	Processor TextProcessor
	Geocoder  GeoResolver
	Slugs     SlugAssigner
	Publisher Publisher

	Age      *AgeFilter
	Boundary *BoundaryFilter
	Gate     *DeduplicationGate

	DryRun  bool
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func NewOrchestrator(opts Options) *Orchestrator {
	return &Orchestrator{
		sources:   opts.Sources,
		messages:  opts.Messages,
		state:     opts.State,
		processor: opts.Processor,
		geocoder:  opts.Geocoder,
		slugs:     opts.Slugs,
		publisher: opts.Publisher,
		age:       opts.Age,
		boundary:  opts.Boundary,
		gate:      opts.Gate,
		dryRun:    opts.DryRun,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Run processes every selected source document and returns the run
// summary. The returned error is non-nil only for run-level failures
// (listing sources, gate queries, context cancellation); per-source
// failures are recorded in the summary instead.
func (o *Orchestrator) Run(ctx context.Context, sourceType string, limit int) (*domain.RunSummary, error) {
	o.metrics.RunActive.Set(1)
	defer o.metrics.RunActive.Set(0)
	runStart := domain.Now()
	defer func() {
		o.metrics.RunDuration.Observe(domain.Now().Sub(runStart).Seconds())
	}()

	docs, err := o.sources.ListByType(ctx, sourceType, limit)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	gate, err := o.gate.Evaluate(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("evaluate deduplication gate: %w", err)
	}

	summary := &domain.RunSummary{Total: len(docs)}
	o.logger.Info("ingest run started",
		"source_type", sourceType,
		"sources", len(docs),
		"dry_run", o.dryRun,
	)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := o.processSource(ctx, doc, gate, summary); err != nil {
			return summary, err
		}
	}

	o.logger.Info("ingest run finished",
		"total", summary.Total,
		"ingested", summary.Ingested,
		"filtered", summary.Filtered,
		"failed", summary.Failed,
		"too_old", summary.TooOld,
		"within_bounds", summary.WithinBounds,
		"outside_bounds", summary.OutsideBounds,
		"already_ingested", summary.AlreadyIngested,
	)
	return summary, nil
}

// processSource handles one document. It returns an error only when the
// run itself must stop.
func (o *Orchestrator) processSource(ctx context.Context, doc *domain.SourceDocument, gate *GateResult, summary *domain.RunSummary) error {
	o.metrics.SourcesSeen.Inc()
	start := domain.Now()
	defer func() {
		o.metrics.SourceDuration.Observe(domain.Now().Sub(start).Seconds())
	}()

	sourceID := domain.EncodeSourceID(doc.URL)
	log := o.logger.With("source_id", sourceID, "url", doc.URL)

	if o.age.TooOld(doc) {
		summary.TooOld++
		o.metrics.SourcesSkipped.WithLabelValues("too_old").Inc()
		log.Debug("skipping source, too old", "published_at", doc.PublishedAt)
		return nil
	}

	verdict := o.boundary.CheckPrecomputed(doc)
	if verdict == VerdictOutside {
		summary.OutsideBounds++
		o.metrics.SourcesSkipped.WithLabelValues("outside_bounds").Inc()
		log.Debug("skipping source, precomputed geometry outside service area")
		return nil
	}

	switch gate.Check(sourceID) {
	case AlreadyIngested:
		summary.AlreadyIngested++
		o.metrics.SourcesSkipped.WithLabelValues("already_ingested").Inc()
		return nil
	case RetriesExhausted:
		o.metrics.SourcesSkipped.WithLabelValues("retries_exhausted").Inc()
		log.Warn("skipping source permanently, retry budget exhausted")
		return nil
	}

	result, err := o.processor.Process(ctx, *doc)
	if errors.Is(err, textproc.ErrAllIrrelevant) {
		summary.Filtered++
		o.metrics.SourcesFiltered.Inc()
		log.Info("source filtered, no relevant content", "split", splitCount(result))
		return nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		o.failSource(ctx, doc, sourceID, err, summary)
		return nil
	}

	kept, dropped, err := o.geocodeAndFilter(ctx, result.Messages, verdict == VerdictWithin, log)
	if err != nil {
		return err
	}
	if len(kept) == 0 && dropped > 0 {
		summary.OutsideBounds++
		o.metrics.SourcesSkipped.WithLabelValues("outside_bounds").Inc()
		log.Info("no features within service area", "dropped", dropped)
		return nil
	}
	if verdict == VerdictWithin || (o.boundary.Enabled() && len(kept) > 0) {
		summary.WithinBounds++
	}

	if o.dryRun {
		summary.Ingested++
		log.Info("dry run, skipping persistence", "messages", len(kept))
		return nil
	}

	if err := o.persist(ctx, kept, log); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		o.failSource(ctx, doc, sourceID, err, summary)
		return nil
	}

	if err := o.state.RecordSuccess(ctx, sourceID); err != nil {
		return fmt.Errorf("record success for %s: %w", sourceID, err)
	}
	summary.Ingested++
	o.metrics.SourcesIngested.Inc()
	log.Info("source ingested", "messages", len(kept), "dropped", dropped)
	return nil
}

// geocodeAndFilter resolves geometry for every message and drops the ones
// that land outside the service area, or that resolved no features at all
// while nothing else places the source inside it. The error return carries
// only context cancellation.
func (o *Orchestrator) geocodeAndFilter(ctx context.Context, msgs []*domain.Message, sourceWithin bool, log *slog.Logger) (kept []*domain.Message, dropped int, err error) {
	for _, msg := range msgs {
		if err := o.geocoder.Resolve(ctx, msg); err != nil {
			return nil, 0, err
		}
		if !o.boundary.AllowsMessage(msg, sourceWithin) {
			dropped++
			log.Debug("dropping message, no features within service area", "message_id", msg.ID)
			continue
		}
		kept = append(kept, msg)
	}
	return kept, dropped, nil
}

// persist writes, slugs, finalizes, and publishes the source's messages.
func (o *Orchestrator) persist(ctx context.Context, msgs []*domain.Message, log *slog.Logger) error {
	for _, msg := range msgs {
		if err := o.messages.Upsert(ctx, msg); err != nil {
			return err
		}
		slug, err := o.slugs.Assign(ctx, msg.ID)
		if err != nil {
			return err
		}
		msg.Slug = slug
	}

	// Finalization happens after every message of the source persisted, so
	// a mid-source failure leaves no message half-published.
	for _, msg := range msgs {
		if err := o.messages.MarkFinalized(ctx, msg.ID); err != nil {
			return err
		}
		now := domain.Now().UTC()
		// The store stamped created_at at write; mirror it on the draft so
		// the published record matches the stored row.
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.FinalizedAt = &now

		if o.publisher != nil {
			if err := o.publisher.Publish(ctx, msg); err != nil {
				log.Error("publishing finalized message failed", "message_id", msg.ID, "error", err)
				continue
			}
			o.metrics.KafkaPublished.Inc()
		}
	}
	return nil
}

// failSource books one failed source into the summary and the retry state.
func (o *Orchestrator) failSource(ctx context.Context, doc *domain.SourceDocument, sourceID string, cause error, summary *domain.RunSummary) {
	summary.Failed++
	summary.Errors = append(summary.Errors, domain.RunError{URL: doc.URL, Error: cause.Error()})
	o.metrics.SourcesFailed.Inc()
	o.logger.Error("source failed", "source_id", sourceID, "url", doc.URL, "error", cause)

	if o.dryRun {
		return
	}
	if err := o.state.RecordFailure(ctx, sourceID, cause); err != nil {
		o.logger.Error("recording failure state failed", "source_id", sourceID, "error", err)
	}
}

func splitCount(result *textproc.Result) int {
	if result == nil {
		return 0
	}
	return result.Split
}
