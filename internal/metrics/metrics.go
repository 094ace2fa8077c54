// Package metrics records service counters and exposes them to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by handlers and background jobs.
type Recorder interface {
	RecordSignIn(provider, outcome string)
	RecordWebhookEvent(eventType, outcome string)
	RecordCheckoutVerification(outcome string)
	RecordGeneration(duration time.Duration, err error)
	RecordSessionsSwept(count int64)
}

// Collector implements Recorder with Prometheus collectors.
type Collector struct {
	signIns            *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	checkoutVerifies   *prometheus.CounterVec
	generationLatency  prometheus.Histogram
	generationFailures prometheus.Counter
	sessionsSwept      prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelscript_sign_ins_total",
			Help: "Sign-in attempts by identity provider and outcome.",
		}, []string{"provider", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelscript_billing_webhook_events_total",
			Help: "Billing webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		checkoutVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelscript_checkout_verifications_total",
			Help: "Client-triggered checkout verifications by outcome.",
		}, []string{"outcome"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reelscript_generation_latency_seconds",
			Help:    "Latency of script generation requests.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		generationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelscript_generation_failures_total",
			Help: "Script generation requests that failed.",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelscript_sessions_swept_total",
			Help: "Expired sessions removed by the sweeper.",
		}),
	}

	reg.MustRegister(
		c.signIns,
		c.webhookEvents,
		c.checkoutVerifies,
		c.generationLatency,
		c.generationFailures,
		c.sessionsSwept,
	)

	return c
}

func (c *Collector) RecordSignIn(provider, outcome string) {
	c.signIns.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (c *Collector) RecordCheckoutVerification(outcome string) {
	c.checkoutVerifies.WithLabelValues(outcome).Inc()
}

// RecordGeneration observes latency for every call and counts failures.
func (c *Collector) RecordGeneration(duration time.Duration, err error) {
	c.generationLatency.Observe(duration.Seconds())
	if err != nil {
		c.generationFailures.Inc()
	}
}

func (c *Collector) RecordSessionsSwept(count int64) {
	if count > 0 {
		c.sessionsSwept.Add(float64(count))
	}
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSignIn(string, string) {}
func (Nop) RecordWebhookEvent(string, string) {}
func (Nop) RecordCheckoutVerification(string) {}
func (Nop) RecordGeneration(time.Duration, error) {}
func (Nop) RecordSessionsSwept(int64) {}
