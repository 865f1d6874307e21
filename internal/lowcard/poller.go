// internal/lowcard/poller.go
package lowcard

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller is the engine's only clock. One background loop per instance scans
// the timer keys and drives state transitions whose deadline has passed.
// Player actions never advance the machine past a deadline on their own.
type Poller struct {
	engine   *Engine
	interval time.Duration
	log      *logrus.Logger
}

// NewPoller builds a poller over the engine. interval <= 0 defaults to one
// second.
func NewPoller(engine *Engine, interval time.Duration, log *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{engine: engine, interval: interval, log: log}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick scans all timer keys once and dispatches every expired deadline.
// Each transition revalidates the game state under its own lock, so a
// duplicate firing (two replicas, or a slow previous tick) is a no-op.
func (p *Poller) Tick(ctx context.Context) {
	e := p.engine
	nowMs := e.now().UnixMilli()

	iter := e.rdb.Scan(ctx, 0, TimerPattern, 100).Iterator()
	for iter.Next(ctx) {
		roomID := RoomFromTimerKey(iter.Val())
		if roomID == "" {
			continue
		}

		t, err := e.getTimer(ctx, roomID)
		if err != nil {
			p.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to read timer")
			continue
		}
		if t == nil || t.ExpiresAt > nowMs {
			continue
		}

		e.metrics.TimerFired.WithLabelValues(t.Phase).Inc()
		switch t.Phase {
		case PhaseJoin:
			e.BeginGame(ctx, roomID)
		case PhaseCountdown:
			e.StartRound(ctx, roomID, t.RoundNumber)
		case PhaseRound:
			e.HandleRoundTimeout(ctx, roomID, t.RoundNumber)
		default:
			p.log.WithFields(logrus.Fields{"room": roomID, "phase": t.Phase}).Warn("unknown timer phase, clearing")
			if err := e.clearTimer(ctx, roomID); err != nil {
				p.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to clear unknown timer")
			}
		}
	}
	if err := iter.Err(); err != nil {
		p.log.WithFields(logrus.Fields{"error": err}).Warn("timer scan failed")
	}
}
