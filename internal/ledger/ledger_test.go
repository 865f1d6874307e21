// internal/ledger/ledger_test.go
package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwave/games/internal/database"
)

// fakeStore is an in-memory durable store.
type fakeStore struct {
	mu       sync.Mutex
	balances map[string]int64
	logs     []creditLogRow
}

type creditLogRow struct {
	UserID      string
	Username    string
	Amount      int64
	TxType      string
	Description string
}

func newFakeStore() *fakeStore {
	return &fakeStore{balances: make(map[string]int64)}
}

func (f *fakeStore) DecrementCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return 0, database.ErrInsufficientCredits
	}
	f.balances[userID] -= amount
	return f.balances[userID], nil
}

func (f *fakeStore) IncrementCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] += amount
	return f.balances[userID], nil
}

func (f *fakeStore) GetCredits(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeStore) InsertCreditLog(ctx context.Context, userID, username string, amount int64, txType, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, creditLogRow{userID, username, amount, txType, description})
	return nil
}

// fakeHook simulates a merchant with tagged credits issued to a user.
type fakeHook struct {
	tagged   map[string]int64
	merchant map[string]string
}

func (f *fakeHook) TaggedBalance(ctx context.Context, userID string) (int64, error) {
	return f.tagged[userID], nil
}

func (f *fakeHook) ConsumeForGame(ctx context.Context, userID, game string, amount int64, gameSessionID string) (ConsumeResult, error) {
	have := f.tagged[userID]
	if have <= 0 {
		return ConsumeResult{Success: false, RemainingAmount: amount}, nil
	}
	used := amount
	if have < amount {
		used = have
	}
	f.tagged[userID] -= used
	return ConsumeResult{Success: true, UsedTaggedCredits: used, RemainingAmount: amount - used}, nil
}

func (f *fakeHook) ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error) {
	m, ok := f.merchant[userID]
	return m, ok, nil
}

func setup(t *testing.T, hook MerchantHook) (*Ledger, *fakeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := newFakeStore()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(store, rdb, hook, log), store, mr
}

func TestDeductWritesThroughCache(t *testing.T) {
	l, store, mr := setup(t, nil)
	ctx := context.Background()
	store.balances["alice"] = 100

	res, err := l.Deduct(ctx, "alice", "Alice", 10, "LowCard Entry (Room r1)", "sess1")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.EqualValues(t, 90, res.Balance)

	cached, err := mr.Get(BalanceKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "90", cached)

	ttl := mr.TTL(BalanceKey("alice"))
	assert.Equal(t, 300*time.Second, ttl)

	require.Len(t, store.logs, 1)
	assert.Equal(t, "game_bet", store.logs[0].TxType)
	assert.EqualValues(t, -10, store.logs[0].Amount)
}

func TestDeductInsufficient(t *testing.T) {
	l, store, _ := setup(t, nil)
	ctx := context.Background()
	store.balances["bob"] = 5

	res, err := l.Deduct(ctx, "bob", "Bob", 10, "LowCard Entry (Room r1)", "sess1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.EqualValues(t, 5, store.balances["bob"])
	assert.Empty(t, store.logs, "failed deduct must not log a bet")
}

func TestDeductTaggedCreditsCoverEverything(t *testing.T) {
	hook := &fakeHook{tagged: map[string]int64{"carol": 50}}
	l, store, _ := setup(t, hook)
	ctx := context.Background()
	store.balances["carol"] = 100

	res, err := l.Deduct(ctx, "carol", "Carol", 20, "LowCard Entry (Room r1)", "sess1")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.EqualValues(t, 20, res.UsedTaggedCredits)
	assert.EqualValues(t, 100, store.balances["carol"], "regular balance untouched")

	require.Len(t, store.logs, 1)
	assert.Contains(t, store.logs[0].Description, "(Tagged Credits)")
}

func TestDeductTaggedCreditsPartial(t *testing.T) {
	hook := &fakeHook{tagged: map[string]int64{"carol": 8}}
	l, store, _ := setup(t, hook)
	ctx := context.Background()
	store.balances["carol"] = 100

	res, err := l.Deduct(ctx, "carol", "Carol", 20, "LowCard Entry (Room r1)", "sess1")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.EqualValues(t, 8, res.UsedTaggedCredits)
	assert.EqualValues(t, 88, store.balances["carol"], "only the remainder hits the regular balance")
}

func TestCreditClassifiesTransactionType(t *testing.T) {
	l, store, _ := setup(t, nil)
	ctx := context.Background()

	_, err := l.Credit(ctx, "alice", "Alice", 27, "LowCard Win (Room r1)")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "bob", "Bob", 10, "LowCard Refund - Not Enough Players (Room r1)")
	require.NoError(t, err)

	require.Len(t, store.logs, 2)
	assert.Equal(t, "game_win", store.logs[0].TxType)
	assert.Equal(t, "game_refund", store.logs[1].TxType)
}

func TestBalanceCacheAside(t *testing.T) {
	l, store, mr := setup(t, nil)
	ctx := context.Background()
	store.balances["alice"] = 77

	balance, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 77, balance)

	// A stale cache wins until it expires or is invalidated.
	store.balances["alice"] = 999
	balance, err = l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 77, balance)

	l.InvalidateBalance(ctx, "alice")
	assert.False(t, mr.Exists(BalanceKey("alice")))
	balance, err = l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 999, balance)
}

func TestDeductCreditRoundTripConserves(t *testing.T) {
	l, store, _ := setup(t, nil)
	ctx := context.Background()
	store.balances["alice"] = 100

	for i := 0; i < 5; i++ {
		res, err := l.Deduct(ctx, "alice", "Alice", 10, fmt.Sprintf("LowCard Entry #%d", i), "sess")
		require.NoError(t, err)
		require.True(t, res.Success)
		_, err = l.Credit(ctx, "alice", "Alice", 10, "LowCard Refund - Cancelled")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 100, store.balances["alice"])
}
