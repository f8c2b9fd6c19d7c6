// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for lock decisions.
//
// # Description
//
// Metrics include:
//   - Decision counters (by kind, operation and outcome)
//   - Bulk workflow counters (resources proposed and committed)
//   - HTTP request latency
//   - Locked and unlocked resource gauges, computed at scrape time
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "aleutian"
	lockSubsystem    = "objectlock"
)

// LockMetrics holds all Prometheus metrics of the lock service.
//
// # Fields
//
//   - DecisionsTotal: Enforcer and API decisions by kind, operation, outcome
//   - BulkResourcesTotal: Resources in bulk previews and commits
//   - RequestDurationSeconds: HTTP latency by route, method and status
//
// LockMetrics implements objectlock.Recorder.
type LockMetrics struct {
	// DecisionsTotal counts lock decisions.
	// Labels: kind, operation (save, delete, lock, unlock, ...), outcome
	DecisionsTotal *prometheus.CounterVec

	// BulkResourcesTotal counts resources handled by bulk workflows.
	// Labels: kind, direction (lock, unlock), phase (propose, commit)
	BulkResourcesTotal *prometheus.CounterVec

	// RequestDurationSeconds measures HTTP request latency.
	// Labels: route, method, status
	RequestDurationSeconds *prometheus.HistogramVec
}

// NewLockMetrics creates and registers the metrics on reg.
//
// # Inputs
//
//   - reg: Registerer to use. Tests pass a fresh prometheus.NewRegistry()
//     so that metrics are isolated.
//
// # Outputs
//
//   - *LockMetrics: Registered metrics.
func NewLockMetrics(reg prometheus.Registerer) *LockMetrics {
	factory := promauto.With(reg)
	return &LockMetrics{
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lockSubsystem,
				Name:      "decisions_total",
				Help:      "Lock decisions by kind, operation and outcome",
			},
			[]string{"kind", "operation", "outcome"},
		),
		BulkResourcesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lockSubsystem,
				Name:      "bulk_resources_total",
				Help:      "Resources in bulk lock workflows by kind, direction and phase",
			},
			[]string{"kind", "direction", "phase"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: lockSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route", "method", "status"},
		),
	}
}

// ObserveDecision implements objectlock.Recorder.
func (m *LockMetrics) ObserveDecision(kind, operation, outcome string) {
	m.DecisionsTotal.WithLabelValues(kind, operation, outcome).Inc()
}

// ObserveBulk implements objectlock.Recorder.
func (m *LockMetrics) ObserveBulk(kind string, dir objectlock.Direction, phase string, n int) {
	m.BulkResourcesTotal.WithLabelValues(kind, string(dir), phase).Add(float64(n))
}

// Middleware records request latency. Unmatched routes are labelled
// "unmatched" to keep cardinality bounded.
func (m *LockMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDurationSeconds.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

var _ objectlock.Recorder = (*LockMetrics)(nil)

// =============================================================================
// Lock State Collector
// =============================================================================

// StateCollector exports the number of locked and unlocked resources per
// registered kind. Counts are computed from the store on every scrape.
type StateCollector struct {
	registry *objectlock.Registry
	timeout  time.Duration
	logger   *slog.Logger
	desc     *prometheus.Desc
}

// NewStateCollector creates a collector over registry. Register it with
// reg.MustRegister.
func NewStateCollector(registry *objectlock.Registry, logger *slog.Logger) *StateCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateCollector{
		registry: registry,
		timeout:  5 * time.Second,
		logger:   logger,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, lockSubsystem, "resources"),
			"Resources by kind and lock state",
			[]string{"kind", "state"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (s *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.desc
}

// Collect implements prometheus.Collector. Kinds whose counts fail are
// omitted from the scrape and logged.
func (s *StateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	for _, name := range s.registry.Names() {
		k, ok := s.registry.Lookup(name)
		if !ok {
			continue
		}
		locked, unlocked, err := k.Counts(ctx)
		if err != nil {
			s.logger.Warn("lock state collection failed", slog.String("kind", name), slog.String("error", err.Error()))
			continue
		}
		ch <- prometheus.MustNewConstMetric(s.desc, prometheus.GaugeValue, float64(locked), name, "locked")
		ch <- prometheus.MustNewConstMetric(s.desc, prometheus.GaugeValue, float64(unlocked), name, "unlocked")
	}
}

// =============================================================================
// Exposition
// =============================================================================

// Handler serves the metrics of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
