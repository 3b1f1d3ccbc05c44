package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

type ProtocolMetrics struct {
	operations *prometheus.CounterVec
	paidOut    *prometheus.CounterVec
}

func NewProtocolMetrics(reg prometheus.Registerer) *ProtocolMetrics {
	m := &ProtocolMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_operations_total",
			Help: "Protocol operations by name and result code",
		}, []string{"op", "result"}),
		paidOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "competition_paid_out_total",
			Help: "Token units released from escrow, by payout kind and token",
		}, []string{"kind", "token"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.paidOut)
	}
	return m
}

func (m *ProtocolMetrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(CodeOf(err))
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *ProtocolMetrics) paid(kind, token string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.paidOut.WithLabelValues(kind, token).Add(float64(amount))
}
