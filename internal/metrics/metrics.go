package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "timedshutter2mqtt"

var (
	Position = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position",
		Help:      "Estimated shutter position, 0 is closed and 100 is open",
	}, []string{"shutter"})

	Moving = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "moving",
		Help:      "Shutter direction: 1 opening, -1 closing, 0 idle",
	}, []string{"shutter"})

	Moves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moves_total",
		Help:      "Finished moves by outcome (completed, stopped, superseded, abandoned)",
	}, []string{"shutter", "outcome"})

	Pulses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulses_total",
		Help:      "RF pulses by command and result (sent, unconfirmed, dropped)",
	}, []string{"shutter", "command", "result"})
)

// Register adds all collectors to r.
func Register(r prometheus.Registerer) {
	r.MustRegister(Position, Moving, Moves, Pulses)
}
