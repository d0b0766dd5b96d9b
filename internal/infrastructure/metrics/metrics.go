package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the chat service collectors. A nil *Recorder records nothing,
// so components can take one unconditionally.
type Recorder struct {
	FeedEvents           *prometheus.CounterVec
	DuplicatesSuppressed prometheus.Counter
	Operations           *prometheus.CounterVec
	LiveSessions         prometheus.Gauge
	FeedReconnects       prometheus.Counter
	RateLimited          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		FeedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalhub",
			Subsystem: "chat",
			Name:      "feed_events_total",
			Help:      "Change-feed message events applied by chat stores, by kind.",
		}, []string{"kind"}),
		DuplicatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rentalhub",
			Subsystem: "chat",
			Name:      "feed_duplicates_total",
			Help:      "Feed inserts dropped because the message was already present.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalhub",
			Subsystem: "chat",
			Name:      "store_operations_total",
			Help:      "Chat store operations by name and result.",
		}, []string{"op", "result"}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rentalhub",
			Subsystem: "chat",
			Name:      "live_sessions",
			Help:      "Users with a chat store in memory.",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rentalhub",
			Subsystem: "chat",
			Name:      "feed_reconnects_total",
			Help:      "Full reloads triggered by a dropped change feed.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalhub",
			Subsystem: "chat",
			Name:      "rate_limited_total",
			Help:      "Actions rejected by the per-user rate limiter.",
		}, []string{"action"}),
	}

	if reg != nil {
		reg.MustRegister(
			r.FeedEvents,
			r.DuplicatesSuppressed,
			r.Operations,
			r.LiveSessions,
			r.FeedReconnects,
			r.RateLimited,
		)
	}
	return r
}

func (r *Recorder) FeedEvent(kind string) {
	if r == nil {
		return
	}
	r.FeedEvents.WithLabelValues(kind).Inc()
}

func (r *Recorder) DuplicateSuppressed() {
	if r == nil {
		return
	}
	r.DuplicatesSuppressed.Inc()
}

// Operation counts one store operation; err decides the result label.
func (r *Recorder) Operation(op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Operations.WithLabelValues(op, result).Inc()
}

func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.LiveSessions.Inc()
}

func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.LiveSessions.Dec()
}

func (r *Recorder) Reconnect() {
	if r == nil {
		return
	}
	r.FeedReconnects.Inc()
}

func (r *Recorder) Limited(action string) {
	if r == nil {
		return
	}
	r.RateLimited.WithLabelValues(action).Inc()
}
