// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chatwave/games/internal/database"
)

const (
	balanceKeyPrefix = "credits:"
	balanceTTL       = 300 * time.Second
)

// Store is the durable surface the ledger mutates. Only the ledger may touch
// users.credits; every engine error path routes through it so no deduction is
// left without a compensating refund.
type Store interface {
	DecrementCredits(ctx context.Context, userID string, amount int64) (int64, error)
	IncrementCredits(ctx context.Context, userID string, amount int64) (int64, error)
	GetCredits(ctx context.Context, userID string) (int64, error)
	InsertCreditLog(ctx context.Context, userID, username string, amount int64, txType, description string) error
}

// DeductResult reports the outcome of a Deduct call.
type DeductResult struct {
	Success           bool
	Balance           int64
	UsedTaggedCredits int64
}

// Ledger performs deduct/credit operations against the durable store with a
// write-through cached balance in the keyed store, and an append-only
// transaction log.
type Ledger struct {
	store Store
	rdb   *redis.Client
	hook  MerchantHook
	log   *logrus.Logger
}

// New builds a ledger. hook may be nil, in which case tagged credits are
// never consumed.
func New(store Store, rdb *redis.Client, hook MerchantHook, log *logrus.Logger) *Ledger {
	if hook == nil {
		hook = NopMerchantHook{}
	}
	return &Ledger{store: store, rdb: rdb, hook: hook, log: log}
}

// BalanceKey returns the cached-balance key for a user.
func BalanceKey(userID string) string {
	return balanceKeyPrefix + userID
}

// Deduct takes amount from a user, consuming tagged credits first when the
// merchant hook reports any. The durable decrement is conditional on the
// balance covering the remainder, so a shortfall fails cleanly with
// Success=false rather than driving the balance negative.
func (l *Ledger) Deduct(ctx context.Context, userID, username string, amount int64, reason, gameSessionID string) (DeductResult, error) {
	remaining := amount
	var usedTagged int64

	tagged, err := l.hook.TaggedBalance(ctx, userID)
	if err != nil {
		l.log.WithFields(logrus.Fields{"user": userID, "error": err}).Warn("merchant hook tagged balance lookup failed")
	} else if tagged > 0 {
		res, err := l.hook.ConsumeForGame(ctx, userID, "lowcard", amount, gameSessionID)
		if err != nil {
			return DeductResult{}, fmt.Errorf("failed to consume tagged credits for user %s: %w", userID, err)
		}
		if res.Success {
			usedTagged = res.UsedTaggedCredits
			remaining = res.RemainingAmount
		}
	}

	if remaining <= 0 {
		// Entire stake covered by tagged credits; the regular balance is untouched.
		if err := l.store.InsertCreditLog(ctx, userID, username, -amount, "game_bet", reason+" (Tagged Credits)"); err != nil {
			l.log.WithFields(logrus.Fields{"user": userID, "error": err}).Error("failed to append credit log for tagged bet")
		}
		balance, _ := l.Balance(ctx, userID)
		return DeductResult{Success: true, Balance: balance, UsedTaggedCredits: usedTagged}, nil
	}

	balance, err := l.store.DecrementCredits(ctx, userID, remaining)
	if errors.Is(err, database.ErrInsufficientCredits) {
		return DeductResult{Success: false}, nil
	}
	if err != nil {
		return DeductResult{}, fmt.Errorf("failed to deduct %d from user %s: %w", remaining, userID, err)
	}

	l.cacheBalance(ctx, userID, balance)
	if err := l.store.InsertCreditLog(ctx, userID, username, -remaining, "game_bet", reason); err != nil {
		l.log.WithFields(logrus.Fields{"user": userID, "error": err}).Error("failed to append credit log for bet")
	}
	return DeductResult{Success: true, Balance: balance, UsedTaggedCredits: usedTagged}, nil
}

// Credit adds amount to a user unconditionally. The log row is typed
// game_refund when the reason mentions a refund, game_win otherwise.
func (l *Ledger) Credit(ctx context.Context, userID, username string, amount int64, reason string) (int64, error) {
	balance, err := l.store.IncrementCredits(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to credit %d to user %s: %w", amount, userID, err)
	}

	l.cacheBalance(ctx, userID, balance)

	txType := "game_win"
	if strings.Contains(reason, "Refund") {
		txType = "game_refund"
	}
	if err := l.store.InsertCreditLog(ctx, userID, username, amount, txType, reason); err != nil {
		l.log.WithFields(logrus.Fields{"user": userID, "error": err}).Error("failed to append credit log for credit")
	}
	return balance, nil
}

// Balance is a cache-aside read of the user's balance through credits:{userId}.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	raw, err := l.rdb.Get(ctx, BalanceKey(userID)).Result()
	if err == nil {
		if cached, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		l.log.WithFields(logrus.Fields{"user": userID, "error": err}).Warn("balance cache read failed")
	}

	balance, err := l.store.GetCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	l.cacheBalance(ctx, userID, balance)
	return balance, nil
}

// InvalidateBalance drops the cached balance; used by restart recovery.
func (l *Ledger) InvalidateBalance(ctx context.Context, userID string) {
	if err := l.rdb.Del(ctx, BalanceKey(userID)).Err(); err != nil {
		l.log.WithFields(logrus.Fields{"user": userID, "error": err}).Warn("balance cache invalidation failed")
	}
}

func (l *Ledger) cacheBalance(ctx context.Context, userID string, balance int64) {
	if err := l.rdb.Set(ctx, BalanceKey(userID), strconv.FormatInt(balance, 10), balanceTTL).Err(); err != nil {
		l.log.WithFields(logrus.Fields{"user": userID, "error": err}).Warn("balance cache write failed")
	}
}
