package ingest

import (
	"context"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// Decision is the gate's verdict for one source document.
type Decision int

const (
	Proceed Decision = iota
	AlreadyIngested
	RetriesExhausted
)

// dedupMessages is the slice of message persistence the gate reads.
type dedupMessages interface {
	ExistingSourceIDs(ctx context.Context, sourceIDs []string) (map[string]bool, error)
}

// dedupState is the slice of retry bookkeeping the gate reads.
type dedupState interface {
	ExhaustedSourceIDs(ctx context.Context, sourceIDs []string, maxAttempts int) (map[string]bool, error)
}

// DeduplicationGate decides, once per run, which sources are skipped
// because they were already ingested or have burned through their retry
// budget. Both lookups run as batched queries up front so the per-source
// loop stays free of round trips.
type DeduplicationGate struct {
	messages    dedupMessages
	state       dedupState
	maxAttempts int
}

func NewDeduplicationGate(messages dedupMessages, state dedupState, maxAttempts int) *DeduplicationGate {
	return &DeduplicationGate{messages: messages, state: state, maxAttempts: maxAttempts}
}

// GateResult holds the precomputed verdicts for one run.
type GateResult struct {
	already   map[string]bool
	exhausted map[string]bool
}

// Evaluate resolves verdicts for all given sources.
func (g *DeduplicationGate) Evaluate(ctx context.Context, docs []*domain.SourceDocument) (*GateResult, error) {
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = domain.EncodeSourceID(doc.URL)
	}

	already, err := g.messages.ExistingSourceIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	exhausted, err := g.state.ExhaustedSourceIDs(ctx, ids, g.maxAttempts)
	if err != nil {
		return nil, err
	}
	return &GateResult{already: already, exhausted: exhausted}, nil
}

// Check returns the verdict for one source id. Already-ingested wins over
// retries-exhausted when both apply.
func (r *GateResult) Check(sourceID string) Decision {
	if r.already[sourceID] {
		return AlreadyIngested
	}
	if r.exhausted[sourceID] {
		return RetriesExhausted
	}
	return Proceed
}
