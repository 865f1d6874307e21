// internal/recovery/recovery.go
package recovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chatwave/games/internal/deck"
	"github.com/chatwave/games/internal/ledger"
	"github.com/chatwave/games/internal/lowcard"
	"github.com/chatwave/games/internal/metrics"
)

const scanBatch = 100

// Sweeper refunds in-flight games left in the keyed store by a previous
// process. It runs once at boot, before the engines start accepting
// commands: every stake found in a waiting or playing snapshot is credited
// back and the state keys are deleted, so a second run over the same store
// changes nothing.
type Sweeper struct {
	rdb     *redis.Client
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// New builds a sweeper.
func New(rdb *redis.Client, led *ledger.Ledger, m *metrics.Metrics, log *logrus.Logger) *Sweeper {
	return &Sweeper{rdb: rdb, ledger: led, metrics: m, log: log}
}

// Run performs the full sweep. Individual refund failures are critical log
// lines, not errors; only a broken scan aborts the sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.sweepLowcard(ctx); err != nil {
		return fmt.Errorf("lowcard sweep: %w", err)
	}
	if err := s.sweepDice(ctx); err != nil {
		return fmt.Errorf("dice sweep: %w", err)
	}
	if err := s.sweepFlagBets(ctx); err != nil {
		return fmt.Errorf("flag bet sweep: %w", err)
	}
	return nil
}

func (s *Sweeper) sweepLowcard(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, "lowcard:game:*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("failed to read game snapshot")
			continue
		}
		var g lowcard.Game
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("dropping unreadable game snapshot")
			s.rdb.Del(ctx, key)
			continue
		}

		if g.Status == lowcard.StatusWaiting || g.Status == lowcard.StatusPlaying {
			// Every recorded player gets their entry back, eliminated ones
			// included: an aborted game has no winner, so an eliminated
			// player's stake would otherwise vanish from the pot.
			reason := fmt.Sprintf("LowCard Refund - Server Restart (Room %s)", g.RoomID)
			for _, p := range g.Players {
				s.refund(ctx, g.RoomID, p.UserID, p.Username, g.EntryAmount, reason)
			}
		}

		s.rdb.Del(ctx, key, deck.Key(g.RoomID), lowcard.TimerKey(g.RoomID))
		s.log.WithFields(logrus.Fields{"room": g.RoomID, "game": g.ID, "status": g.Status}).Info("recovered lowcard game")
	}
	return iter.Err()
}

// diceSnapshot is the portion of a DiceBot game the sweeper needs. DiceBot is
// operated by a sibling service sharing this keyed store; after a shared
// restart this service refunds its games too.
type diceSnapshot struct {
	RoomID    string `json:"roomId"`
	Status    string `json:"status"`
	BetAmount int64  `json:"betAmount"`
	Players   []struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	} `json:"players"`
}

func (s *Sweeper) sweepDice(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, "dicebot:game:*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("failed to read dice snapshot")
			continue
		}
		var g diceSnapshot
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("dropping unreadable dice snapshot")
			s.rdb.Del(ctx, key)
			continue
		}

		if g.Status == "waiting" || g.Status == "playing" {
			reason := fmt.Sprintf("DiceBot Refund - Server Restart (Room %s)", g.RoomID)
			for _, p := range g.Players {
				s.refund(ctx, g.RoomID, p.UserID, p.Username, g.BetAmount, reason)
			}
		}

		s.rdb.Del(ctx, key)
		s.log.WithFields(logrus.Fields{"room": g.RoomID, "status": g.Status}).Info("recovered dice game")
	}
	return iter.Err()
}

// flagBet is one hash entry under flagbot:room:{R}:bets, keyed by user id.
type flagBet struct {
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
}

func (s *Sweeper) sweepFlagBets(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, "flagbot:room:*:bets", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		roomID := flagRoomFromKey(key)

		entries, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("failed to read flag bets")
			continue
		}

		reason := fmt.Sprintf("FlagBot Refund - Server Restart (Room %s)", roomID)
		for userID, raw := range entries {
			var bet flagBet
			if err := json.Unmarshal([]byte(raw), &bet); err != nil {
				s.log.WithFields(logrus.Fields{"key": key, "user": userID, "error": err}).Warn("skipping unreadable flag bet")
				continue
			}
			s.refund(ctx, roomID, userID, bet.Username, bet.Amount, reason)
		}

		s.rdb.Del(ctx, key)
		s.log.WithFields(logrus.Fields{"room": roomID, "bets": len(entries)}).Info("recovered flag bets")
	}
	return iter.Err()
}

// refund credits one stake back and drops the cached balance. A failed refund
// is critical: the money is gone from the user's view until an operator
// replays the credit from the logs.
func (s *Sweeper) refund(ctx context.Context, roomID, userID, username string, amount int64, reason string) {
	if amount <= 0 {
		return
	}
	if _, err := s.ledger.Credit(ctx, userID, username, amount, reason); err != nil {
		s.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "amount": amount, "critical": true, "error": err}).Error("restart refund failed")
		return
	}
	s.ledger.InvalidateBalance(ctx, userID)
	if s.metrics != nil {
		s.metrics.Refunds.Inc()
	}
	s.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "amount": amount}).Info("restart refund issued")
}

// flagRoomFromKey extracts {R} from flagbot:room:{R}:bets.
func flagRoomFromKey(key string) string {
	const prefix, suffix = "flagbot:room:", ":bets"
	if len(key) <= len(prefix)+len(suffix) {
		return ""
	}
	return key[len(prefix) : len(key)-len(suffix)]
}
