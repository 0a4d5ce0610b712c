// Package metrics provides a Prometheus lifecycle hook for stately
// applications: step counts and latencies, stream item throughput, and
// application creations.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/stately/pkg/api"
)

// Hook observes application lifecycle events and exports them as
// Prometheus metrics. Register it with ApplicationBuilder.WithHooks.
type Hook struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	streamItems  *prometheus.CounterVec
	appsCreated  prometheus.Counter

	mu      sync.Mutex
	started map[string]time.Time
}

// NewHook registers the stately metrics on reg and returns the hook. Use
// prometheus.DefaultRegisterer for the process-wide registry.
func NewHook(reg prometheus.Registerer) *Hook {
	factory := promauto.With(reg)
	return &Hook{
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stately",
			Name:      "steps_total",
			Help:      "Steps executed, by action and outcome.",
		}, []string{"action", "status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stately",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock step duration, by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		streamItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stately",
			Name:      "stream_items_total",
			Help:      "Intermediate stream items emitted, by action.",
		}, []string{"action"}),
		appsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stately",
			Name:      "applications_created_total",
			Help:      "Applications built, including resumes and forks.",
		}),
		started: make(map[string]time.Time),
	}
}

func stepKey(appID string, sequenceID int64) string {
	return fmt.Sprintf("%s/%d", appID, sequenceID)
}

// PreRunStep records the step's start time.
func (h *Hook) PreRunStep(_ context.Context, info *api.StepStartInfo) {
	h.mu.Lock()
	h.started[stepKey(info.AppID, info.SequenceID)] = time.Now()
	h.mu.Unlock()
}

// PostRunStep counts the step and observes its duration.
func (h *Hook) PostRunStep(_ context.Context, info *api.StepEndInfo) {
	key := stepKey(info.AppID, info.SequenceID)
	h.mu.Lock()
	start, ok := h.started[key]
	delete(h.started, key)
	h.mu.Unlock()

	status := "completed"
	if info.Err != nil {
		status = "failed"
	}
	h.stepsTotal.WithLabelValues(info.Action, status).Inc()
	if ok {
		h.stepDuration.WithLabelValues(info.Action).Observe(time.Since(start).Seconds())
	}
}

// PostStreamItem counts one intermediate element.
func (h *Hook) PostStreamItem(_ context.Context, info *api.StreamItemInfo) {
	h.streamItems.WithLabelValues(info.Action).Inc()
}

// PostApplicationCreate counts one application build.
func (h *Hook) PostApplicationCreate(_ context.Context, _ *api.ApplicationCreateInfo) {
	h.appsCreated.Inc()
}
