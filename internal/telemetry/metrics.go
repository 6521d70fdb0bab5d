package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/sessiond"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Login metrics
	SessionsCreatedTotal metric.Int64Counter
	LoginFailuresTotal   metric.Int64Counter

	// Refresh metrics
	SessionsRefreshedTotal metric.Int64Counter
	RefreshFailuresTotal   metric.Int64Counter

	// Revocation metrics
	SessionsRevokedTotal metric.Int64Counter

	// Reaper metrics
	SessionsReapedTotal metric.Int64Counter
	ReapDuration        metric.Float64Histogram

	// Store metrics
	StoreUnavailableTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"sessiond.sessions.created.total",
		metric.WithDescription("Total number of sessions created by successful logins"),
		metric.WithUnit("{session}"),
	)

	m.LoginFailuresTotal, _ = meter.Int64Counter(
		"sessiond.logins.failures.total",
		metric.WithDescription("Total number of failed login attempts by reason"),
		metric.WithUnit("{login}"),
	)

	m.SessionsRefreshedTotal, _ = meter.Int64Counter(
		"sessiond.sessions.refreshed.total",
		metric.WithDescription("Total number of access tokens minted from a refresh token"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshFailuresTotal, _ = meter.Int64Counter(
		"sessiond.sessions.refresh.failures.total",
		metric.WithDescription("Total number of rejected refresh attempts by reason"),
		metric.WithUnit("{refresh}"),
	)

	m.SessionsRevokedTotal, _ = meter.Int64Counter(
		"sessiond.sessions.revoked.total",
		metric.WithDescription("Total number of sessions moved to revoked"),
		metric.WithUnit("{session}"),
	)

	m.SessionsReapedTotal, _ = meter.Int64Counter(
		"sessiond.sessions.reaped.total",
		metric.WithDescription("Total number of expired sessions deleted by the reaper"),
		metric.WithUnit("{session}"),
	)

	m.ReapDuration, _ = meter.Float64Histogram(
		"sessiond.reaper.sweep.duration",
		metric.WithDescription("Duration of reaper sweeps"),
		metric.WithUnit("ms"),
	)

	m.StoreUnavailableTotal, _ = meter.Int64Counter(
		"sessiond.store.unavailable.total",
		metric.WithDescription("Total number of operations that failed because the session store was unavailable"),
		metric.WithUnit("{operation}"),
	)

	return m
}
