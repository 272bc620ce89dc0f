package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	assert.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)

	assert.GreaterOrEqual(t, timer.Duration(), 5*time.Millisecond)
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_observe_duration",
	})

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(histogram)

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "test_timer_observe_duration_vec"},
		[]string{"operation"},
	)

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDurationVec(histogramVec, "deploy")

	assert.Equal(t, 1, testutil.CollectAndCount(histogramVec))
}

func TestTimerMultipleCalls(t *testing.T) {
	timer := NewTimer()
	d1 := timer.Duration()
	time.Sleep(time.Millisecond)
	d2 := timer.Duration()

	assert.Greater(t, d2, d1)
}
