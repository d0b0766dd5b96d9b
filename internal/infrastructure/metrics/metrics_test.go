package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.FeedEvent("insert")
	r.FeedEvent("insert")
	r.FeedEvent("update")
	r.DuplicateSuppressed()
	r.Operation("send_message", nil)
	r.Operation("send_message", errors.New("offline"))
	r.SessionOpened()
	r.SessionOpened()
	r.SessionClosed()
	r.Reconnect()
	r.Limited("create_chat")

	assert.Equal(t, float64(2), testutil.ToFloat64(r.FeedEvents.WithLabelValues("insert")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.FeedEvents.WithLabelValues("update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.DuplicatesSuppressed))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Operations.WithLabelValues("send_message", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Operations.WithLabelValues("send_message", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.LiveSessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.FeedReconnects))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.RateLimited.WithLabelValues("create_chat")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "rentalhub_chat_feed_events_total")
	assert.Contains(t, names, "rentalhub_chat_live_sessions")
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.FeedEvent("insert")
		r.DuplicateSuppressed()
		r.Operation("x", nil)
		r.SessionOpened()
		r.SessionClosed()
		r.Reconnect()
		r.Limited("x")
	})
}
