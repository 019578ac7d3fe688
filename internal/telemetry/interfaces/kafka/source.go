package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"twin-rules/internal/observability/metrics"
	telemetry "twin-rules/internal/telemetry/domain"
)

// Reader is the subset of *kafka.Reader used by Source.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config holds consumer settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader builds a consumer-group reader.
func NewReader(cfg Config) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

type pendingMessage struct {
	msg kafkago.Message
	end int
}

// Source is an unbounded telemetry.Source over a Kafka topic. A message holds
// one JSON sample or an array of samples. Messages are committed once every
// sample they carried has been processed.
type Source struct {
	reader Reader
	name   string
	logger zerolog.Logger

	buffered []telemetry.Sample

	mu        sync.Mutex
	delivered int
	pending   []pendingMessage
}

// Option configures the source.
type Option func(*Source)

// WithName sets the consumer label used for lag metrics.
func WithName(name string) Option {
	return func(s *Source) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource constructs a source.
func NewSource(reader Reader, opts ...Option) (*Source, error) {
	if reader == nil {
		return nil, errors.New("kafka source: nil reader")
	}
	s := &Source{reader: reader, name: "telemetry", logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next implements telemetry.Source. Undecodable messages are skipped and
// committed with the next processed batch.
func (s *Source) Next(ctx context.Context) (telemetry.Sample, error) {
	for len(s.buffered) == 0 {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			return telemetry.Sample{}, err
		}
		if !msg.Time.IsZero() {
			metrics.ObserveConsumerLag(s.name, time.Since(msg.Time))
		}
		samples, err := decode(msg.Value)
		if err != nil {
			s.logger.Warn().Err(err).Str("topic", msg.Topic).Int("partition", msg.Partition).
				Int64("offset", msg.Offset).Msg("skipping undecodable telemetry message")
		}
		s.buffered = samples
		s.mu.Lock()
		s.pending = append(s.pending, pendingMessage{msg: msg, end: s.delivered + len(samples)})
		s.mu.Unlock()
	}
	sample := s.buffered[0]
	s.buffered = s.buffered[1:]
	s.mu.Lock()
	s.delivered++
	s.mu.Unlock()
	return sample, nil
}

// Commit implements telemetry.Committer.
func (s *Source) Commit(ctx context.Context, processed int) error {
	s.mu.Lock()
	n := 0
	for n < len(s.pending) && s.pending[n].end <= processed {
		n++
	}
	done := make([]kafkago.Message, n)
	for i := 0; i < n; i++ {
		done[i] = s.pending[i].msg
	}
	s.pending = s.pending[n:]
	s.mu.Unlock()
	if len(done) == 0 {
		return nil
	}
	return s.reader.CommitMessages(ctx, done...)
}

// Close closes the reader.
func (s *Source) Close() error {
	return s.reader.Close()
}

func decode(value []byte) ([]telemetry.Sample, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, errors.New("kafka source: empty message")
	}
	var samples []telemetry.Sample
	if value[0] == '[' {
		if err := json.Unmarshal(value, &samples); err != nil {
			return nil, err
		}
	} else {
		var sample telemetry.Sample
		if err := json.Unmarshal(value, &sample); err != nil {
			return nil, err
		}
		samples = []telemetry.Sample{sample}
	}
	out := samples[:0]
	for _, sample := range samples {
		if sample.Validate() != nil {
			continue
		}
		sample.Timestamp = sample.Timestamp.UTC()
		out = append(out, sample)
	}
	return out, nil
}
