// Package metrics exposes ledger outcomes as Prometheus metrics.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// Ledger implements ledger.Recorder.
type Ledger struct {
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	violations *prometheus.CounterVec
}

// NewLedger registers the ledger metrics on registerer
// (prometheus.DefaultRegisterer when nil).
func NewLedger(registerer prometheus.Registerer, cfg Config) *Ledger {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "chronos"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Ledger{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chronos_ledger_operations_total",
				Help:        "Ledger operations by outcome.",
				ConstLabels: constLabels,
			},
			[]string{"op", "result"}, // committed | rejected | not_found | conflict | defect | error
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chronos_ledger_retries_total",
				Help:        "Transactions retried after a store conflict.",
				ConstLabels: constLabels,
			},
			[]string{"op"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chronos_ledger_consistency_violations_total",
				Help:        "Broken ledger invariants. Any increase needs investigation.",
				ConstLabels: constLabels,
			},
			[]string{"op"},
		),
	}
	registerer.MustRegister(m.operations, m.retries, m.violations)
	return m
}

func (m *Ledger) ObserveOperation(op, result string) {
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Ledger) ObserveRetry(op string) {
	m.retries.WithLabelValues(op).Inc()
}

func (m *Ledger) ObserveConsistencyViolation(op string) {
	m.violations.WithLabelValues(op).Inc()
}
