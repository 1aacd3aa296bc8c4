package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_ws_connects_total",
		Help: "Successful push channel connections.",
	})
	connectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_ws_connect_failures_total",
		Help: "Failed push channel dial attempts.",
	})
	joinDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_ws_join_denied_total",
		Help: "Conversation join requests denied by the server.",
	})
	acksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_ws_acks_sent_total",
		Help: "Delivered/read acknowledgements emitted on the push channel.",
	})
)
