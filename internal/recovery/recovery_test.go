// internal/recovery/recovery_test.go
package recovery

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwave/games/internal/database"
	"github.com/chatwave/games/internal/deck"
	"github.com/chatwave/games/internal/ledger"
	"github.com/chatwave/games/internal/lowcard"
	"github.com/chatwave/games/internal/metrics"
)

type logRow struct {
	UserID      string
	Amount      int64
	TxType      string
	Description string
}

type memStore struct {
	mu       sync.Mutex
	balances map[string]int64
	rows     []logRow
}

func newMemStore() *memStore {
	return &memStore{balances: make(map[string]int64)}
}

func (s *memStore) DecrementCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] < amount {
		return 0, database.ErrInsufficientCredits
	}
	s.balances[userID] -= amount
	return s.balances[userID], nil
}

func (s *memStore) IncrementCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return s.balances[userID], nil
}

func (s *memStore) GetCredits(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *memStore) InsertCreditLog(ctx context.Context, userID, username string, amount int64, txType, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, logRow{UserID: userID, Amount: amount, TxType: txType, Description: description})
	return nil
}

func (s *memStore) balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) logRows() []logRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logRow(nil), s.rows...)
}

func newSweeper(t *testing.T) (*Sweeper, *memStore, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	st := newMemStore()
	led := ledger.New(st, rdb, nil, log)
	m := metrics.New(prometheus.NewRegistry())
	return New(rdb, led, m, log), st, rdb, mr
}

func seedLowcardGame(t *testing.T, rdb *redis.Client, roomID string, status lowcard.GameStatus, entry int64, players ...*lowcard.Player) {
	t.Helper()
	g := lowcard.Game{
		ID:          "g-" + roomID,
		RoomID:      roomID,
		Status:      status,
		EntryAmount: entry,
		Pot:         entry * int64(len(players)),
		Players:     players,
		CreatedAt:   time.Now(),
	}
	data, err := json.Marshal(&g)
	require.NoError(t, err)
	require.NoError(t, rdb.Set(context.Background(), lowcard.GameKey(roomID), data, time.Hour).Err())
}

func TestSweepRefundsWaitingLowcardGame(t *testing.T) {
	s, st, rdb, _ := newSweeper(t)
	ctx := context.Background()

	seedLowcardGame(t, rdb, "r1", lowcard.StatusWaiting, 10,
		&lowcard.Player{UserID: "u1", Username: "alice"},
		&lowcard.Player{UserID: "u2", Username: "bob"},
	)
	require.NoError(t, rdb.Set(ctx, deck.Key("r1"), "[]", time.Hour).Err())
	require.NoError(t, rdb.Set(ctx, lowcard.TimerKey("r1"), "{}", time.Hour).Err())

	require.NoError(t, s.Run(ctx))

	assert.Equal(t, int64(10), st.balance("u1"))
	assert.Equal(t, int64(10), st.balance("u2"))

	for _, key := range []string{lowcard.GameKey("r1"), deck.Key("r1"), lowcard.TimerKey("r1")} {
		n, err := rdb.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.Zero(t, n, "expected %s to be deleted", key)
	}

	rows := st.logRows()
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "game_refund", row.TxType)
		assert.Equal(t, "LowCard Refund - Server Restart (Room r1)", row.Description)
	}
}

func TestSweepRefundsEliminatedPlayersToo(t *testing.T) {
	s, st, rdb, _ := newSweeper(t)
	ctx := context.Background()

	seedLowcardGame(t, rdb, "r1", lowcard.StatusPlaying, 20,
		&lowcard.Player{UserID: "u1", Username: "alice", IsEliminated: true},
		&lowcard.Player{UserID: "u2", Username: "bob"},
	)

	require.NoError(t, s.Run(ctx))

	// The aborted game has no winner, so both entries come back and the
	// ledger stays conserved: every game_bet has a matching game_refund.
	assert.Equal(t, int64(20), st.balance("u1"))
	assert.Equal(t, int64(20), st.balance("u2"))

	rows := st.logRows()
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "game_refund", row.TxType)
	}
}

func TestSweepLeavesFinishedGamesUnrefunded(t *testing.T) {
	s, st, rdb, _ := newSweeper(t)
	ctx := context.Background()

	seedLowcardGame(t, rdb, "r1", lowcard.StatusFinished, 10,
		&lowcard.Player{UserID: "u1", Username: "alice"},
	)

	require.NoError(t, s.Run(ctx))

	assert.Equal(t, int64(0), st.balance("u1"))
	n, err := rdb.Exists(ctx, lowcard.GameKey("r1")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepRefundsDiceGame(t *testing.T) {
	s, st, rdb, _ := newSweeper(t)
	ctx := context.Background()

	snapshot := `{"roomId":"r2","status":"playing","betAmount":15,"players":[{"userId":"u3","username":"carol"}]}`
	require.NoError(t, rdb.Set(ctx, "dicebot:game:r2", snapshot, time.Hour).Err())

	require.NoError(t, s.Run(ctx))

	assert.Equal(t, int64(15), st.balance("u3"))
	rows := st.logRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "DiceBot Refund - Server Restart (Room r2)", rows[0].Description)
}

func TestSweepRefundsFlagBets(t *testing.T) {
	s, st, rdb, _ := newSweeper(t)
	ctx := context.Background()

	require.NoError(t, rdb.HSet(ctx, "flagbot:room:r3:bets",
		"u4", `{"username":"dave","amount":7}`,
		"u5", `{"username":"erin","amount":12}`,
	).Err())

	require.NoError(t, s.Run(ctx))

	assert.Equal(t, int64(7), st.balance("u4"))
	assert.Equal(t, int64(12), st.balance("u5"))
	n, err := rdb.Exists(ctx, "flagbot:room:r3:bets").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepIsIdempotent(t *testing.T) {
	s, st, rdb, _ := newSweeper(t)
	ctx := context.Background()

	seedLowcardGame(t, rdb, "r1", lowcard.StatusWaiting, 10,
		&lowcard.Player{UserID: "u1", Username: "alice"},
	)
	require.NoError(t, rdb.HSet(ctx, "flagbot:room:r3:bets", "u4", `{"username":"dave","amount":7}`).Err())

	require.NoError(t, s.Run(ctx))
	first := st.balance("u1")
	firstRows := len(st.logRows())

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, first, st.balance("u1"))
	assert.Equal(t, int64(7), st.balance("u4"))
	assert.Len(t, st.logRows(), firstRows)
}

func TestSweepDropsUnreadableSnapshot(t *testing.T) {
	s, _, rdb, _ := newSweeper(t)
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, "lowcard:game:r9", "not-json", time.Hour).Err())
	require.NoError(t, s.Run(ctx))

	n, err := rdb.Exists(ctx, "lowcard:game:r9").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
