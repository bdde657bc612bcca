package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conduit_pool_units_live",
		Help: "Number of live execution units in the pool.",
	})

	terminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conduit_pool_terminations_total",
		Help: "Execution units terminated, by reason.",
	}, []string{"reason"})

	overshootTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conduit_pool_capacity_overshoot_total",
		Help: "Unit creations that exceeded a capacity ceiling because nothing idle could be evicted.",
	})
)
