// Package metrics defines the Prometheus collectors for the device
// authorization server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the server's collectors with their registry
type Metrics struct {
	Registry *prometheus.Registry

	// AuthorizationRequests counts device authorization requests by
	// result (ok, invalid_client, invalid_scope, server_error).
	AuthorizationRequests *prometheus.CounterVec

	// TokenPolls counts token endpoint polls by outcome (issued,
	// authorization_pending, slow_down, access_denied, expired_token,
	// invalid_grant, server_error).
	TokenPolls *prometheus.CounterVec

	// VerificationDecisions counts approve/deny decisions
	VerificationDecisions *prometheus.CounterVec

	// SweptRecords counts device code records removed by cleanup
	SweptRecords prometheus.Counter

	// PollDuration observes token endpoint latency in seconds
	PollDuration prometheus.Histogram
}

// New creates and registers the server's collectors on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		AuthorizationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_authorization_requests_total",
			Help: "Device authorization requests by result",
		}, []string{"result"}),
		TokenPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_token_polls_total",
			Help: "Token endpoint polls by outcome",
		}, []string{"outcome"}),
		VerificationDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_verification_decisions_total",
			Help: "User verification decisions by kind",
		}, []string{"decision"}),
		SweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_code_records_swept_total",
			Help: "Device code records removed by the cleanup sweeper",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "device_token_poll_duration_seconds",
			Help:    "Token endpoint request duration",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.AuthorizationRequests,
		m.TokenPolls,
		m.VerificationDecisions,
		m.SweptRecords,
		m.PollDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
