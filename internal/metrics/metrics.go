// Package metrics holds the Prometheus collectors for the dispatch pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes, used as the "outcome" label value.
const (
	OutcomeSent        = "sent"
	OutcomeSkipped     = "skipped"
	OutcomeRateLimited = "rate_limited"
	OutcomeTransient   = "transient_failure"
	OutcomeFailed      = "terminal_failure"
	OutcomeExhausted   = "exhausted"
)

// Metrics is registered on a private registry so tests can create as many
// instances as they like. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DispatchTotal       *prometheus.CounterVec
	DispatchDuration    prometheus.Histogram
	JobsEnqueuedTotal   prometheus.Counter
	RecipientsSnapshot  prometheus.Counter
	CampaignTransitions *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_dispatch_total",
				Help: "Dispatch job outcomes",
			},
			[]string{"outcome"},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaign_dispatch_duration_seconds",
				Help:    "Time spent handling one dispatch job",
				Buckets: prometheus.DefBuckets,
			},
		),
		JobsEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campaign_jobs_enqueued_total",
				Help: "Dispatch jobs handed to the queue",
			},
		),
		RecipientsSnapshot: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campaign_recipients_snapshotted_total",
				Help: "Recipient rows written by audience snapshots",
			},
		),
		CampaignTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_status_transitions_total",
				Help: "Campaign status changes",
			},
			[]string{"to"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_http_requests_total",
				Help: "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.JobsEnqueuedTotal,
		m.RecipientsSnapshot,
		m.CampaignTransitions,
		m.HTTPRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Dispatched(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(outcome).Inc()
	m.DispatchDuration.Observe(took.Seconds())
}

func (m *Metrics) Exhausted() {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(OutcomeExhausted).Inc()
}

func (m *Metrics) Enqueued(n int) {
	if m == nil {
		return
	}
	m.JobsEnqueuedTotal.Add(float64(n))
}

func (m *Metrics) Snapshotted(n int) {
	if m == nil {
		return
	}
	m.RecipientsSnapshot.Add(float64(n))
}

func (m *Metrics) Transitioned(to string) {
	if m == nil {
		return
	}
	m.CampaignTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Request(method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
