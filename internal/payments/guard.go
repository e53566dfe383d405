package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type callbackStore interface {
	ClaimCallback(ctx context.Context, outcome, txnID string, ttl time.Duration) (bool, error)
	CallbackKey(outcome, txnID string) string
	Del(ctx context.Context, keys ...string) error
}

// CallbackGuard remembers which gateway callbacks were already recorded so a
// redelivered redirect does not produce a second event.
type CallbackGuard struct {
	store callbackStore
	ttl   time.Duration
}

func NewCallbackGuard(store callbackStore, ttl time.Duration) (*CallbackGuard, error) {
	if store == nil {
		return nil, errors.New("callback store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &CallbackGuard{store: store, ttl: ttl}, nil
}

// Claim reports true for the first delivery of outcome for txnID.
func (g *CallbackGuard) Claim(ctx context.Context, outcome, txnID string) (bool, error) {
	if txnID == "" {
		return false, errors.New("transaction id is required")
	}
	claimed, err := g.store.ClaimCallback(ctx, outcome, txnID, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim callback: %w", err)
	}
	return claimed, nil
}

// Release forgets a claim so the gateway's retry can be recorded.
func (g *CallbackGuard) Release(ctx context.Context, outcome, txnID string) error {
	if txnID == "" {
		return errors.New("transaction id is required")
	}
	return g.store.Del(ctx, g.store.CallbackKey(outcome, txnID))
}
