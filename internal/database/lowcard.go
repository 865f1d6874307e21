// internal/database/lowcard.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertLowcardGame creates the per-game summary row at start (status
// "waiting") and returns its id, which the snapshot carries as dbId.
func (s *Store) InsertLowcardGame(ctx context.Context, roomID string, entryAmount int64, startedBy string) (int64, error) {
	q := `
	INSERT INTO lowcard_games (room_id, entry_amount, started_by, status, created_at)
	VALUES ($1, $2, $3, 'waiting', $4)
	RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, q, roomID, entryAmount, startedBy, time.Now()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert lowcard game for room %s: %w", roomID, err)
	}
	return id, nil
}

// FinishLowcardGame marks the summary row finished and writes the
// lowcard_history record in one transaction, so a crash between the two
// writes cannot leave a finished game without its history row.
func (s *Store) FinishLowcardGame(ctx context.Context, gameID int64, winnerID, winnerUsername string, pot, winnings, commission int64, playerCount int) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upd := `
		UPDATE lowcard_games
		SET status = 'finished', winner_id = $2, winnings = $3, finished_at = $4
		WHERE id = $1
		`
		if _, e := tx.Exec(ctx, upd, gameID, winnerID, winnings, time.Now()); e != nil {
			return e
		}

		ins := `
		INSERT INTO lowcard_history (game_id, winner_id, winner_username, pot, winnings, commission, player_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, e := tx.Exec(ctx, ins, gameID, winnerID, winnerUsername, pot, winnings, commission, playerCount, time.Now())
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to finish lowcard game %d: %w", gameID, err)
	}
	return nil
}

// CancelLowcardGame marks the summary row cancelled; the snapshot and ledger
// refunds are handled by the engine.
func (s *Store) CancelLowcardGame(ctx context.Context, gameID int64) error {
	q := `UPDATE lowcard_games SET status = 'cancelled', finished_at = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, gameID, time.Now()); err != nil {
		return fmt.Errorf("failed to cancel lowcard game %d: %w", gameID, err)
	}
	return nil
}
