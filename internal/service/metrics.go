package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/parimutuel/internal/domain"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_operations_total",
		Help: "Engine operations, labeled by op and result kind",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parimutuel_operation_duration_seconds",
		Help:    "Latency of engine operations including the store transaction",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})

	stakedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_staked_units_total",
		Help: "Base units credited to escrows by stakes",
	})

	paidOutUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_paid_out_units_total",
		Help: "Base units debited from escrows by claims",
	})
)

func (e *Engine) observe(op domain.Op, start time.Time, err error) {
	operationDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	operationsTotal.WithLabelValues(string(op), outcome).Inc()
}
