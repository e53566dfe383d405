package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pickup-checkout/internal/cart"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/localstore"
)

// PendingTransaction is written before the gateway hand-off and removed once
// the attempt resolves. Entries that outlive their attempt are the
// reconciliation trail for charges that may have no order.
type PendingTransaction struct {
	TransactionID string             `json:"transactionId"`
	State         enums.JournalState `json:"state"`
	CustomerID    string             `json:"customerId"`
	CustomerEmail string             `json:"customerEmail"`
	MerchantID    string             `json:"merchantId"`
	MerchantName  string             `json:"merchantName,omitempty"`
	Lines         []cart.Line        `json:"cart"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
	Discount      decimal.Decimal    `json:"discount"`
	Amount        decimal.Decimal    `json:"amount"`
	CouponCode    string             `json:"couponCode,omitempty"`
	LastError     string             `json:"lastError,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Journal keeps pending transactions as a JSON array in one local slot.
type Journal struct {
	mu    sync.Mutex
	slots localstore.Store
	key   string
}

func NewJournal(slots localstore.Store, key string) (*Journal, error) {
	if slots == nil {
		return nil, fmt.Errorf("local store required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("journal slot key required")
	}
	return &Journal{slots: slots, key: key}, nil
}

// List returns every retained entry, oldest first.
func (j *Journal) List(ctx context.Context) ([]PendingTransaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readLocked(ctx)
}

// Put inserts entry or replaces the one with the same transaction id.
func (j *Journal) Put(ctx context.Context, entry PendingTransaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readLocked(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].TransactionID == entry.TransactionID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return j.writeLocked(ctx, entries)
}

// Remove deletes the entry for transactionID and reports whether it existed.
func (j *Journal) Remove(ctx context.Context, transactionID string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readLocked(ctx)
	if err != nil {
		return false, err
	}
	kept := entries[:0]
	for _, entry := range entries {
		if entry.TransactionID != transactionID {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(entries) {
		return false, nil
	}
	return true, j.writeLocked(ctx, kept)
}

func (j *Journal) readLocked(ctx context.Context) ([]PendingTransaction, error) {
	raw, err := j.slots.Get(ctx, j.key)
	if errors.Is(err, localstore.ErrNotFound) {
		return []PendingTransaction{}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read pending checkouts")
	}
	var entries []PendingTransaction
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			// Never drop an unreadable journal: it may be the only record of a charge.
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode pending checkouts")
		}
	}
	if entries == nil {
		entries = []PendingTransaction{}
	}
	return entries, nil
}

func (j *Journal) writeLocked(ctx context.Context, entries []PendingTransaction) error {
	if entries == nil {
		entries = []PendingTransaction{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pending checkouts")
	}
	if err := j.slots.Put(ctx, j.key, string(payload)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save pending checkouts")
	}
	return nil
}
