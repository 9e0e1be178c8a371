package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncrementNotification("shown")
	m.IncrementReply("sent")
	m.SetActive(3)
	m.SetSubscribed(true)
	m.ObserveEvaluate(time.Millisecond)
	m.IncrementPresenterError("show")
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncrementNotification("shown")
	m.IncrementNotification("shown")
	m.IncrementNotification("dismissed")
	m.SetSubscribed(true)
	m.SetSubscribed(false)
	m.SetActive(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("shown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dismissed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WatcherSubscribed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WatcherTransitions.WithLabelValues("unsubscribe")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveNotifications))
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.IncrementReply("sent")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Replies.WithLabelValues("sent")))
}

func TestHandlerExposes(t *testing.T) {
	m := New()
	m.IncrementReply("send_failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `msgnotify_replies_total{outcome="send_failed"} 1`)
}
