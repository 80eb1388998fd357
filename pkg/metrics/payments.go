package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Callback outcomes recorded by PaymentMetrics.
const (
	CallbackApplied           = "applied"
	CallbackDuplicate         = "duplicate"
	CallbackSignatureMismatch = "signature_mismatch"
	CallbackRejected          = "rejected"
	CallbackError             = "error"
)

// PaymentMetrics tracks gateway traffic and reconciliation results.
type PaymentMetrics struct {
	callbacks       *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
	gatewayFailures *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks received, by outcome.",
	}, []string{"outcome"})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciled_total",
		Help: "Payment status changes applied, by source and resulting status.",
	}, []string{"source", "status"})
	gatewayFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_failures_total",
		Help: "Gateway calls that failed after retries, by operation.",
	}, []string{"operation"})
	reg.MustRegister(callbacks, reconciled, gatewayFailures)
	return &PaymentMetrics{
		callbacks:       callbacks,
		reconciled:      reconciled,
		gatewayFailures: gatewayFailures,
	}
}

func (m *PaymentMetrics) ObserveCallback(outcome string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) ObserveReconciled(source, status string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(source), normalizeLabel(status)).Inc()
}

func (m *PaymentMetrics) IncGatewayFailure(operation string) {
	if m == nil || m.gatewayFailures == nil {
		return
	}
	m.gatewayFailures.WithLabelValues(normalizeLabel(operation)).Inc()
}
