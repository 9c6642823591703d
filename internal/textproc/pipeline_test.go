package textproc_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/disruption-ingest/internal/domain"
	"github.com/civicwatch/disruption-ingest/internal/observability"
	"github.com/civicwatch/disruption-ingest/internal/textproc"
)

// --- mock client ---

// mockClient routes each call to a canned response by matching the prompt to
// a stage, and counts the calls per stage.
type mockClient struct {
	splitResp      string
	categorizeResp []string // consumed in order; last one repeats
	extractResp    string

	splitErr error

	splitCalls      int
	categorizeCalls int
	extractCalls    int
}

func (m *mockClient) Complete(_ context.Context, prompt, _ string) (json.RawMessage, error) {
	switch {
	case strings.Contains(prompt, "You segment"):
		m.splitCalls++
		if m.splitErr != nil {
			return nil, m.splitErr
		}
		return json.RawMessage(m.splitResp), nil
	case strings.Contains(prompt, "You categorize"):
		i := m.categorizeCalls
		m.categorizeCalls++
		if i >= len(m.categorizeResp) {
			i = len(m.categorizeResp) - 1
		}
		return json.RawMessage(m.categorizeResp[i]), nil
	default:
		m.extractCalls++
		return json.RawMessage(m.extractResp), nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSource() domain.SourceDocument {
	return domain.SourceDocument{
		URL:         "https://example.org/outage/42",
		Title:       "Planned water outage",
		RawText:     "Water off on Elm St tomorrow. Also tram 3 diverted.",
		SourceType:  "utility",
		Locality:    "ljubljana",
		PublishedAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}
}

const relevantCategorize = `{"categories":["water"],"isRelevant":true,"normalizedText":"Water supply interrupted on Elm Street."}`
const irrelevantCategorize = `{"categories":[],"isRelevant":false,"normalizedText":""}`
const emptyExtract = `{"pins":[],"streets":[],"busStops":[],"cadastralProperties":[]}`

// --- tests ---

func TestPipeline_Process_FanOut(t *testing.T) {
	// Three split entries: two relevant, one irrelevant. All three must get a
	// categorize attempt; only the relevant two reach extraction.
	client := &mockClient{
		splitResp: `{"messages":[
			{"plainText":"Water off on Elm St","isRelevant":true},
			{"plainText":"Our office hours changed","isRelevant":false},
			{"plainText":"Tram 3 diverted","isRelevant":true}]}`,
		categorizeResp: []string{relevantCategorize, irrelevantCategorize, relevantCategorize},
		extractResp:    `{"pins":[{"address":"Elm St 1","timespans":[{"start":"20.01.2026 08:00","end":"20.01.2026 18:00"}]}]}`,
	}

	p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())
	res, err := p.Process(context.Background(), testSource())

	require.NoError(t, err)
	assert.Equal(t, 3, client.categorizeCalls, "every split entry gets a categorize attempt")
	assert.Equal(t, 2, client.extractCalls, "only relevant entries reach extraction")
	assert.Equal(t, 3, res.Split)
	assert.Equal(t, 1, res.Filtered)
	require.Len(t, res.Messages, 2)

	msg := res.Messages[0]
	assert.Equal(t, "Water off on Elm St", msg.Text)
	assert.Equal(t, "Water supply interrupted on Elm Street.", msg.PlainText)
	assert.Equal(t, []domain.Category{domain.CategoryWater}, msg.Categories)
	assert.Equal(t, domain.EncodeSourceID("https://example.org/outage/42"), msg.SourceDocumentID)
	require.Len(t, msg.Pins, 1)
	assert.Equal(t, "Elm St 1", msg.Pins[0].Address)
	require.Len(t, msg.Pins[0].Timespans, 1)
	assert.Equal(t, "20.01.2026 08:00", msg.Pins[0].Timespans[0].Start)
	require.NotNil(t, msg.Pins[0].Timespans[0].StartsAt)
}

func TestPipeline_Process_StableMessageIDs(t *testing.T) {
	client := &mockClient{
		splitResp:      `{"messages":[{"plainText":"Water off","isRelevant":true}]}`,
		categorizeResp: []string{relevantCategorize},
		extractResp:    emptyExtract,
	}
	p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())

	res1, err := p.Process(context.Background(), testSource())
	require.NoError(t, err)
	res2, err := p.Process(context.Background(), testSource())
	require.NoError(t, err)

	assert.Equal(t, res1.Messages[0].ID, res2.Messages[0].ID,
		"reprocessing the same source must derive the same message id")
}

func TestPipeline_Process_AllIrrelevant(t *testing.T) {
	client := &mockClient{
		splitResp:      `{"messages":[{"plainText":"We wish you happy holidays","isRelevant":false}]}`,
		categorizeResp: []string{irrelevantCategorize},
	}

	p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())
	_, err := p.Process(context.Background(), testSource())

	require.ErrorIs(t, err, textproc.ErrAllIrrelevant)
	assert.Equal(t, 1, client.categorizeCalls)
	assert.Equal(t, 0, client.extractCalls)
}

func TestPipeline_Process_EmptySplit(t *testing.T) {
	client := &mockClient{splitResp: `{"messages":[]}`}

	p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())
	_, err := p.Process(context.Background(), testSource())

	require.ErrorIs(t, err, textproc.ErrAllIrrelevant)
}

func TestPipeline_Process_ValidationFailureAborts(t *testing.T) {
	t.Run("categorize stage", func(t *testing.T) {
		client := &mockClient{
			splitResp: `{"messages":[
				{"plainText":"Water off","isRelevant":true},
				{"plainText":"Power off","isRelevant":true}]}`,
			categorizeResp: []string{`{"categories":["invalid-category"],"isRelevant":true}`},
		}

		p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())
		_, err := p.Process(context.Background(), testSource())

		var vErr *textproc.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, textproc.StageCategorize, vErr.Stage)
		assert.Equal(t, 0, client.extractCalls, "no extraction after a failed categorize")
	})

	t.Run("extract stage", func(t *testing.T) {
		client := &mockClient{
			splitResp:      `{"messages":[{"plainText":"Water off","isRelevant":true}]}`,
			categorizeResp: []string{relevantCategorize},
			extractResp:    `{"pins":[{"timespans":[]}]}`, // pin missing required address
		}

		p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())
		_, err := p.Process(context.Background(), testSource())

		var vErr *textproc.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, textproc.StageExtract, vErr.Stage)
	})
}

func TestPipeline_Process_TransportError(t *testing.T) {
	client := &mockClient{splitErr: errors.New("connection refused")}

	p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())
	_, err := p.Process(context.Background(), testSource())

	require.Error(t, err)
	var vErr *textproc.ValidationError
	assert.False(t, errors.As(err, &vErr), "transport errors are not validation errors")
}

func TestPipeline_Process_LiteralCoordinates(t *testing.T) {
	client := &mockClient{
		splitResp: `{"messages":[{"plainText":"Closure at 46.0569, 14.5058","isRelevant":true}]}`,
		categorizeResp: []string{
			`{"categories":["road-closure"],"coordinates":["46.0569, 14.5058"],"specificAddresses":["Slovenska cesta 1"],"isRelevant":true,"normalizedText":"Road closed."}`,
		},
		extractResp: emptyExtract,
	}

	p := textproc.NewPipeline(client, discardLogger(), observability.NewMetricsForTesting())
	res, err := p.Process(context.Background(), testSource())

	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	require.Len(t, res.Messages[0].Pins, 1)

	pin := res.Messages[0].Pins[0]
	assert.Equal(t, "Slovenska cesta 1", pin.Address)
	require.NotNil(t, pin.Coordinates)
	assert.Equal(t, 46.0569, pin.Coordinates.Lat)
	assert.Equal(t, 14.5058, pin.Coordinates.Lng)
}
