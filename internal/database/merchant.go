// internal/database/merchant.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ActiveMerchantFor returns the merchant a user is tagged to, if any.
// A user with an active merchant_tags row spends tagged credits first and
// earns their merchant a cut of the house fee.
func (s *Store) ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error) {
	q := `
	SELECT merchant_id FROM merchant_tags
	WHERE tagged_user_id = $1 AND status = 'active'
	LIMIT 1
	`
	var merchantID string
	err := s.pool.QueryRow(ctx, q, userID).Scan(&merchantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read merchant tag for user %s: %w", userID, err)
	}
	return merchantID, true, nil
}
