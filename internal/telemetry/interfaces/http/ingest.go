package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	telemetry "twin-rules/internal/telemetry/domain"
)

const maxBodyBytes = 8 << 20

// Processor evaluates a batch of samples.
type Processor interface {
	ProcessSamples(ctx context.Context, samples []telemetry.Sample) error
}

// IngestHandler accepts pushed samples, stores them and hands them to the engine.
type IngestHandler struct {
	repo      telemetry.SampleRepository
	processor Processor
	logger    zerolog.Logger
}

// NewIngestHandler constructs an ingest handler. Either repo or processor may be nil, not both.
func NewIngestHandler(repo telemetry.SampleRepository, processor Processor, logger zerolog.Logger) (*IngestHandler, error) {
	if repo == nil && processor == nil {
		return nil, errors.New("telemetry ingest: nil repository and processor")
	}
	return &IngestHandler{
		repo:      repo,
		processor: processor,
		logger:    logger.With().Str("component", "telemetry-ingest").Logger(),
	}, nil
}

// ServeHTTP ingests telemetry data.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn().Err(err).Msg("read body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn().Err(err).Msg("decode body")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	samples, err := req.toSamples()
	if err != nil {
		h.logger.Warn().Err(err).Msg("invalid payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if h.repo != nil {
		if err := h.repo.InsertSamples(r.Context(), samples); err != nil {
			h.logger.Error().Err(err).Msg("insert samples")
			http.Error(w, "insert error", http.StatusInternalServerError)
			return
		}
	}
	if h.processor != nil {
		if err := h.processor.ProcessSamples(r.Context(), samples); err != nil {
			h.logger.Error().Err(err).Msg("process samples")
			http.Error(w, "process error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": len(samples)})
}

type ingestRequest struct {
	TrendID string        `json:"trendId"`
	TS      int64         `json:"ts"`
	Value   *float64      `json:"value"`
	Points  []ingestPoint `json:"points"`
}

type ingestPoint struct {
	TrendID string   `json:"trendId"`
	TS      int64    `json:"ts"`
	Value   *float64 `json:"value"`
}

func (r ingestRequest) toSamples() ([]telemetry.Sample, error) {
	points := r.Points
	if len(points) == 0 && r.TS != 0 {
		points = []ingestPoint{{TrendID: r.TrendID, TS: r.TS, Value: r.Value}}
	}
	if len(points) == 0 {
		return nil, errors.New("no telemetry points")
	}

	samples := make([]telemetry.Sample, 0, len(points))
	for _, point := range points {
		trendID := point.TrendID
		if trendID == "" {
			trendID = r.TrendID
		}
		if trendID == "" {
			return nil, errors.New("missing trendId")
		}
		if point.Value == nil {
			return nil, errors.New("missing value")
		}
		ts, err := parseTimestamp(point.TS)
		if err != nil {
			return nil, err
		}
		samples = append(samples, telemetry.Sample{TrendID: trendID, Timestamp: ts, Value: *point.Value})
	}
	telemetry.SortStable(samples)
	return samples, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
