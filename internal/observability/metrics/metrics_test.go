package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHelpersCountAfterInit(t *testing.T) {
	// Helpers are no-ops until Init registers the collectors.
	AddSamples("accepted", 3)
	IncInsightEvent("insight.created")

	Init(nil, zerolog.Nop())
	Init(nil, zerolog.Nop())

	AddSamples("accepted", 3)
	AddSamples("accepted", 0)
	AddSamples("rejected", 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(samplesTotal.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(samplesTotal.WithLabelValues("rejected")))

	IncInsightEvent("")
	assert.Equal(t, 1.0, testutil.ToFloat64(insightEventsTotal.WithLabelValues("unknown")))

	ObserveConsumerLag("telemetry", -time.Second)
	assert.Zero(t, testutil.ToFloat64(consumerLag.WithLabelValues("telemetry")))

	SetActiveActors(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(activeActors))

	ObserveBatch("", time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(batchTotal.WithLabelValues(resultSuccess)))
}
