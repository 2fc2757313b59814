package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var generatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rollcall_sessions_generated_total",
	Help: "Session descriptors issued, including regenerations.",
})

func observeGenerated() {
	generatedTotal.Inc()
}
