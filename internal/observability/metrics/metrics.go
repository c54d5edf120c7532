// Package metrics exposes reminder pass outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindbot/internal/reminder"
)

const namespace = "remindbot"

// Collector records every finished pass.
type Collector struct {
	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	lastPass      prometheus.Gauge
	pages         prometheus.Counter
	itemsScanned  prometheus.Counter
	itemsDue      prometheus.Counter
	itemsAdvanced prometheus.Counter
	notifications *prometheus.CounterVec
	unresolved    prometheus.Counter
	renderFail    prometheus.Counter
	badStyles     prometheus.Counter
	clockFail     prometheus.Counter
}

var _ reminder.PassObserver = (*Collector)(nil)

func NewCollector(reg prometheus.Registerer) *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	c := &Collector{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reminder passes by outcome.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a reminder pass.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last pass started.",
		}),
		pages:         counter("pages_fetched_total", "Non-empty candidate pages read."),
		itemsScanned:  counter("items_scanned_total", "Candidate items examined."),
		itemsDue:      counter("items_due_total", "Items whose reminder interval had elapsed."),
		itemsAdvanced: counter("items_advanced_total", "Items whose reminder clock was advanced."),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Per-recipient deliveries by outcome.",
		}, []string{"result"}),
		unresolved: counter("recipients_unresolved_total", "Recipients skipped because they could not be resolved."),
		renderFail: counter("render_failures_total", "Avatar collages that failed to render."),
		badStyles:  counter("malformed_styles_total", "Style tokens that were not valid colors."),
		clockFail:  counter("clock_advance_failures_total", "Items whose reminder clock could not be advanced."),
	}

	reg.MustRegister(
		c.passes,
		c.passDuration,
		c.lastPass,
		c.pages,
		c.itemsScanned,
		c.itemsDue,
		c.itemsAdvanced,
		c.notifications,
		c.unresolved,
		c.renderFail,
		c.badStyles,
		c.clockFail,
	)
	return c
}

func (c *Collector) ObservePass(r reminder.PassReport) {
	result := "ok"
	if r.Aborted {
		result = "aborted"
	}
	c.passes.WithLabelValues(result).Inc()
	c.passDuration.Observe(r.Duration.Seconds())
	if !r.StartedAt.IsZero() {
		c.lastPass.Set(float64(r.StartedAt.Unix()))
	}
	c.pages.Add(float64(r.PagesFetched))
	c.itemsScanned.Add(float64(r.ItemsScanned))
	c.itemsDue.Add(float64(r.ItemsDue))
	c.itemsAdvanced.Add(float64(r.ItemsAdvanced))
	c.notifications.WithLabelValues("sent").Add(float64(r.NotificationsSent))
	c.notifications.WithLabelValues("failed").Add(float64(r.NotificationsFailed))
	c.unresolved.Add(float64(r.RecipientsUnresolved))
	c.renderFail.Add(float64(r.RenderFailures))
	c.badStyles.Add(float64(r.MalformedStyles))
	c.clockFail.Add(float64(r.ClockAdvanceFailures))
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
