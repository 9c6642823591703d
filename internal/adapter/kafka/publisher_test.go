package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

func TestSerializeMessage(t *testing.T) {
	finalized := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)
	msg := &domain.Message{
		ID:               "src-abc-m0",
		Text:             "Water supply interrupted on Main Street.",
		Categories:       []domain.Category{domain.CategoryWater},
		Slug:             "a1B2c3D4",
		SourceDocumentID: "src-abc",
		Locality:         "Riverton",
		FinalizedAt:      &finalized,
	}

	record, err := serializeMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, []byte("src-abc-m0"), record.Key)

	headers := make(map[string]string)
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "Riverton", headers["locality"])
	assert.Equal(t, "a1B2c3D4", headers["slug"])
	assert.Equal(t, "2026-04-15T12:00:00Z", headers["finalized_at"])

	var decoded domain.Message
	require.NoError(t, json.Unmarshal(record.Value, &decoded))
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Categories, decoded.Categories)
	assert.Equal(t, msg.Slug, decoded.Slug)
}

func TestSerializeMessage_NoFinalizedAt(t *testing.T) {
	record, err := serializeMessage(&domain.Message{ID: "src-abc-m0", Locality: "Riverton"})
	require.NoError(t, err)

	for _, h := range record.Headers {
		assert.NotEqual(t, "finalized_at", h.Key)
	}
}
