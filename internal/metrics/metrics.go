// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the engine, router, and poller
// update. Register everything against one registry in main and expose it via
// promhttp.
type Metrics struct {
	GamesStarted   prometheus.Counter
	GamesFinished  prometheus.Counter
	GamesCancelled prometheus.Counter
	Refunds        prometheus.Counter
	Commands       *prometheus.CounterVec
	TimerFired     *prometheus.CounterVec
	ActiveRooms    prometheus.Gauge
}

// Nop returns instruments bound to a private registry. Callers that have no
// registry to export still get live counters instead of nil checks.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// New registers the instruments against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GamesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "games_started_total",
			Help: "Number of games successfully started.",
		}),
		GamesFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "games_finished_total",
			Help: "Number of games finished with a winner.",
		}),
		GamesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "games_cancelled_total",
			Help: "Number of games cancelled, stopped, reset, or cleaned up.",
		}),
		Refunds: factory.NewCounter(prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Number of individual player refunds issued.",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Chat commands processed, by bucket.",
		}, []string{"bucket"}),
		TimerFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "game_timers_fired_total",
			Help: "Expired game timers handled by the poller, by phase.",
		}, []string{"phase"}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_rooms",
			Help: "Rooms with a command queue currently being drained.",
		}),
	}
}
