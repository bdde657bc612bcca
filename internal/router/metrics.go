package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var routeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "conduit_route_outcomes_total",
	Help: "Routed calls by terminal usage status.",
}, []string{"status"})
