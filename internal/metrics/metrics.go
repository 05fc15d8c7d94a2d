// Package metrics exposes chat and task-queue counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements chat.Metrics and worker.Observer.
type Collector struct {
	messagesPersisted *prometheus.CounterVec
	pushes            *prometheus.CounterVec
	liveSessions      prometheus.Gauge
	tasksDropped      *prometheus.CounterVec
	tasksFailed       *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messagesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whchat_messages_persisted_total",
			Help: "Messages stored, by message type.",
		}, []string{"type"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whchat_pushes_total",
			Help: "Live pushes, by event and whether they were accepted.",
		}, []string{"event", "ok"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whchat_live_sessions",
			Help: "Registered websocket sessions on this node.",
		}),
		tasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whchat_tasks_dropped_total",
			Help: "Background tasks rejected by a full or stopped queue.",
		}, []string{"task"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whchat_tasks_failed_total",
			Help: "Background tasks that exhausted their retries.",
		}, []string{"task"}),
	}

	reg.MustRegister(
		c.messagesPersisted,
		c.pushes,
		c.liveSessions,
		c.tasksDropped,
		c.tasksFailed,
	)
	return c
}

func (c *Collector) MessagePersisted(messageType string) {
	c.messagesPersisted.WithLabelValues(messageType).Inc()
}

func (c *Collector) PushResult(event string, ok bool) {
	c.pushes.WithLabelValues(event, strconv.FormatBool(ok)).Inc()
}

func (c *Collector) SessionsChanged(n int) {
	c.liveSessions.Set(float64(n))
}

func (c *Collector) TaskDropped(name string) {
	c.tasksDropped.WithLabelValues(name).Inc()
}

func (c *Collector) TaskFailed(name string) {
	c.tasksFailed.WithLabelValues(name).Inc()
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
