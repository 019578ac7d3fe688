package telemetry

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"
)

// ErrInvalidSample is returned for samples without a trend id or timestamp.
var ErrInvalidSample = errors.New("telemetry: invalid sample")

// Sample is one raw value of a trend.
type Sample struct {
	TrendID   string    `json:"trendId"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Validate checks sample invariants.
func (s Sample) Validate() error {
	if s.TrendID == "" || s.Timestamp.IsZero() {
		return ErrInvalidSample
	}
	return nil
}

// Source is a lazy, finite sequence of samples ordered by timestamp.
// Next returns io.EOF once exhausted.
type Source interface {
	Next(ctx context.Context) (Sample, error)
}

// Restartable is a Source that can be replayed from the beginning.
type Restartable interface {
	Source
	Reset() error
}

// Committer is a Source that acknowledges samples once they are processed.
// processed is the number of samples returned by Next that are done, counted
// from the first call.
type Committer interface {
	Source
	Commit(ctx context.Context, processed int) error
}

// SampleRepository persists samples.
type SampleRepository interface {
	InsertSamples(ctx context.Context, samples []Sample) error
}

// PresentValueReader returns the newest stored value of a trend.
type PresentValueReader interface {
	PresentValue(ctx context.Context, trendID string) (float64, error)
}

// SortStable orders samples by timestamp, keeping arrival order for ties.
func SortStable(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}

// SliceSource serves samples from memory.
type SliceSource struct {
	samples []Sample
	pos     int
}

// NewSliceSource sorts a copy of samples and serves them in order.
func NewSliceSource(samples []Sample) *SliceSource {
	copied := append([]Sample(nil), samples...)
	SortStable(copied)
	return &SliceSource{samples: copied}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if s.pos >= len(s.samples) {
		return Sample{}, io.EOF
	}
	sample := s.samples[s.pos]
	s.pos++
	return sample, nil
}

// Reset implements Restartable.
func (s *SliceSource) Reset() error {
	s.pos = 0
	return nil
}

// Drain reads src until io.EOF.
func Drain(ctx context.Context, src Source) ([]Sample, error) {
	var out []Sample
	for {
		sample, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, sample)
	}
}
