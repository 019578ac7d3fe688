package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "twin-rules/internal/telemetry/domain"
)

type recordingRepo struct {
	samples []telemetry.Sample
}

func (r *recordingRepo) InsertSamples(_ context.Context, samples []telemetry.Sample) error {
	r.samples = append(r.samples, samples...)
	return nil
}

type recordingProcessor struct {
	batches [][]telemetry.Sample
}

func (r *recordingProcessor) ProcessSamples(_ context.Context, samples []telemetry.Sample) error {
	r.batches = append(r.batches, samples)
	return nil
}

func TestIngestHandlerStoresAndProcesses(t *testing.T) {
	repo := &recordingRepo{}
	proc := &recordingProcessor{}
	h, err := NewIngestHandler(repo, proc, zerolog.Nop())
	require.NoError(t, err)

	body := `{"trendId":"trend-sat-1","points":[
		{"ts":1709510400000,"value":21.5},
		{"ts":1709509500,"value":20},
		{"trendId":"trend-fan-1","ts":1709510400,"value":55}]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted":3}`, rec.Body.String())
	require.Len(t, repo.samples, 3)
	assert.Equal(t, time.Date(2024, 3, 3, 23, 45, 0, 0, time.UTC), repo.samples[0].Timestamp)
	assert.Equal(t, "trend-fan-1", repo.samples[2].TrendID)
	require.Len(t, proc.batches, 1)
	assert.Len(t, proc.batches[0], 3)
}

func TestIngestHandlerRejectsBadPayloads(t *testing.T) {
	h, err := NewIngestHandler(&recordingRepo{}, nil, zerolog.Nop())
	require.NoError(t, err)

	for name, body := range map[string]string{
		"not json":      `{`,
		"no points":     `{"trendId":"t"}`,
		"missing trend": `{"ts":1709510400,"value":1}`,
		"missing value": `{"trendId":"t","ts":1709510400}`,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewIngestHandlerNeedsATarget(t *testing.T) {
	_, err := NewIngestHandler(nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
