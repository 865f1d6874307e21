// internal/database/user.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrInsufficientCredits is returned by DecrementCredits when the conditional
// update matches no row, either because the user does not exist or because
// their balance is below the requested amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

// DecrementCredits subtracts amount from users.credits only if the balance
// covers it, returning the new balance. The condition lives in the UPDATE
// itself so that two replicas deducting concurrently cannot drive a balance
// negative.
func (s *Store) DecrementCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	q := `
	UPDATE users
	SET credits = credits - $2
	WHERE id = $1 AND credits >= $2
	RETURNING credits
	`
	var balance int64
	err := s.pool.QueryRow(ctx, q, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement credits for user %s: %w", userID, err)
	}
	return balance, nil
}

// IncrementCredits adds amount to users.credits unconditionally and returns
// the new balance. Used for wins, refunds, and merchant commissions.
func (s *Store) IncrementCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	q := `
	UPDATE users
	SET credits = credits + $2
	WHERE id = $1
	RETURNING credits
	`
	var balance int64
	err := s.pool.QueryRow(ctx, q, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment credits for user %s: %w", userID, err)
	}
	return balance, nil
}

// GetCredits reads the authoritative balance for a user.
func (s *Store) GetCredits(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to read credits for user %s: %w", userID, err)
	}
	return balance, nil
}

// UserRole returns the role column for a user ("admin", "super_admin", ...).
func (s *Store) UserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read role for user %s: %w", userID, err)
	}
	return role, nil
}
