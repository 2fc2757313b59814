package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checkinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_checkins_total",
	Help: "Check-in attempts by result (present, late, or a rejection kind).",
}, []string{"result"})

func observeCheckin(result string) {
	checkinsTotal.WithLabelValues(result).Inc()
}
