// internal/ledger/merchant.go
package ledger

import "context"

// ConsumeResult reports how much of a stake tagged credits absorbed.
type ConsumeResult struct {
	Success           bool
	UsedTaggedCredits int64
	RemainingAmount   int64
}

// MerchantHook is the opaque merchant-tag integration. Tagged credits are
// issued by a merchant and consumed preferentially over the regular balance
// during a bet; a tagged user's merchant also earns a cut of the house fee.
type MerchantHook interface {
	TaggedBalance(ctx context.Context, userID string) (int64, error)
	ConsumeForGame(ctx context.Context, userID, game string, amount int64, gameSessionID string) (ConsumeResult, error)
	ActiveMerchantFor(ctx context.Context, userID string) (merchantID string, ok bool, err error)
}

// NopMerchantHook is used when the merchant subsystem is not deployed.
type NopMerchantHook struct{}

func (NopMerchantHook) TaggedBalance(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (NopMerchantHook) ConsumeForGame(ctx context.Context, userID, game string, amount int64, gameSessionID string) (ConsumeResult, error) {
	return ConsumeResult{Success: false, RemainingAmount: amount}, nil
}

func (NopMerchantHook) ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error) {
	return "", false, nil
}

// StoreMerchantHook resolves merchant tags from the durable store but leaves
// tagged-credit consumption to the external merchant subsystem.
type StoreMerchantHook struct {
	Tags TagStore
}

// TagStore is the slice of the durable store the hook needs.
type TagStore interface {
	ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error)
}

func (h StoreMerchantHook) TaggedBalance(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (h StoreMerchantHook) ConsumeForGame(ctx context.Context, userID, game string, amount int64, gameSessionID string) (ConsumeResult, error) {
	return ConsumeResult{Success: false, RemainingAmount: amount}, nil
}

func (h StoreMerchantHook) ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error) {
	return h.Tags.ActiveMerchantFor(ctx, userID)
}
