// internal/database/ledger.go
package database

import (
	"context"
	"fmt"
	"time"
)

// InsertCreditLog appends one row to the append-only credit_logs table.
// txType is one of "game_bet", "game_win", "game_refund".
func (s *Store) InsertCreditLog(ctx context.Context, userID, username string, amount int64, txType, description string) error {
	q := `
	INSERT INTO credit_logs (user_id, username, amount, transaction_type, description, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, q, userID, username, amount, txType, description, time.Now()); err != nil {
		return fmt.Errorf("failed to insert credit log for user %s: %w", userID, err)
	}
	return nil
}

// InsertGameHistory records one game_history row. One "lose" row is written
// for the starter when a game begins, and one "win" row for the winner when
// it finishes.
func (s *Store) InsertGameHistory(ctx context.Context, userID, username, gameType, result string, reward int64) error {
	q := `
	INSERT INTO game_history (user_id, username, game_type, result, reward, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, q, userID, username, gameType, result, reward, time.Now()); err != nil {
		return fmt.Errorf("failed to insert game history for user %s: %w", userID, err)
	}
	return nil
}
