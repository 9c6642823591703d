// Package slug mints short public identifiers for messages and assigns
// them with collision checking against the store.
package slug

import (
	"context"
	"fmt"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/civicwatch/disruption-ingest/internal/observability"
)

// alphabet is the 62-character alphanumeric set slugs are drawn from.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// DefaultLength is the slug length used when none is configured.
const DefaultLength = 8

// DefaultMaxAttempts bounds how many candidates are tried before giving up.
const DefaultMaxAttempts = 10

// Generator mints random slug candidates.
type Generator struct {
	length int
}

func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Generate returns one random candidate.
func (g *Generator) Generate() (string, error) {
	s, err := gonanoid.Generate(alphabet, g.length)
	if err != nil {
		return "", fmt.Errorf("generate slug: %w", err)
	}
	return s, nil
}

// Store is the slice of message persistence the assigner needs.
type Store interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
	AssignSlug(ctx context.Context, messageID, candidate string) (string, error)
}

// Assigner picks an unused slug for a message and writes it. Assignment is
// idempotent per message: if the message already carries a slug, that slug
// is kept and the candidate is discarded by the store.
type Assigner struct {
	gen         *Generator
	store       Store
	maxAttempts int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

func NewAssigner(gen *Generator, store Store, maxAttempts int, logger *slog.Logger, metrics *observability.Metrics) *Assigner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Assigner{
		gen:         gen,
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metrics,
	}
}

// Assign ensures the message has a slug and returns it. Candidates that
// collide with an existing slug are regenerated up to the attempt cap.
func (a *Assigner) Assign(ctx context.Context, messageID string) (string, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		candidate, err := a.gen.Generate()
		if err != nil {
			return "", err
		}

		taken, err := a.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug availability: %w", err)
		}
		if taken {
			a.metrics.SlugCollisions.Inc()
			a.logger.Debug("slug candidate collided",
				"message_id", messageID,
				"attempt", attempt,
			)
			continue
		}

		return a.store.AssignSlug(ctx, messageID, candidate)
	}
	return "", fmt.Errorf("no free slug for message %s after %d attempts", messageID, a.maxAttempts)
}
