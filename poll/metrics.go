package poll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_poll_ticks_total",
		Help: "Fallback poll ticks performed.",
	})
	failures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_poll_failures_total",
		Help: "Fallback poll ticks that failed and were swallowed.",
	})
)
