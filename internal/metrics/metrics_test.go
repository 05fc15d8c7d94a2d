package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func find(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestCollector_MessagePersisted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.MessagePersisted("text")
	c.MessagePersisted("text")
	c.MessagePersisted("image")

	mf := find(t, reg, "whchat_messages_persisted_total")
	require.Len(t, mf.GetMetric(), 2)
	for _, m := range mf.GetMetric() {
		switch m.GetLabel()[0].GetValue() {
		case "text":
			require.Equal(t, 2.0, m.GetCounter().GetValue())
		case "image":
			require.Equal(t, 1.0, m.GetCounter().GetValue())
		}
	}
}

func TestCollector_PushResultLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.PushResult("receive_message", true)
	c.PushResult("receive_message", false)

	mf := find(t, reg, "whchat_pushes_total")
	require.Len(t, mf.GetMetric(), 2)
}

func TestCollector_SessionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SessionsChanged(3)
	c.SessionsChanged(1)

	mf := find(t, reg, "whchat_live_sessions")
	require.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
}

func TestCollector_TaskOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.TaskDropped("mark_delivered")
	c.TaskFailed("mark_delivered")
	c.TaskFailed("mark_delivered")

	require.Equal(t, 1.0, find(t, reg, "whchat_tasks_dropped_total").GetMetric()[0].GetCounter().GetValue())
	require.Equal(t, 2.0, find(t, reg, "whchat_tasks_failed_total").GetMetric()[0].GetCounter().GetValue())
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.MessagePersisted("text")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "whchat_messages_persisted_total")
}
