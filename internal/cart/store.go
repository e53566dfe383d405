// Package cart owns the device-local shopping cart. Every mutation is written
// to the local slot before the in-memory copy changes, so a reader never sees
// a cart that was not persisted.
package cart

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/localstore"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
)

var (
	ErrCrossMerchant = pkgerrors.New(pkgerrors.CodeValidation, "cannot add items from different shops")
	ErrItemInactive  = pkgerrors.New(pkgerrors.CodeValidation, "this item is currently unavailable")
)

// Item is a menu entry as presented by the catalog.
type Item struct {
	ID           string          `validate:"required"`
	Name         string          `validate:"required"`
	Description  string
	UnitPrice    decimal.Decimal
	DietType     enums.DietType `validate:"omitempty,oneof=veg non-veg"`
	Category     string
	ImageRef     string
	MerchantName string
	IsActive     bool
}

// Line is one persisted cart entry.
type Line struct {
	ItemID       string          `json:"itemId"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	MerchantID   string          `json:"merchantId"`
	MerchantName string          `json:"merchantName,omitempty"`
	DietType     enums.DietType  `json:"dietType"`
	Category     string          `json:"category,omitempty"`
	ImageRef     string          `json:"imageRef,omitempty"`
}

// Total is unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is an immutable copy of the cart handed to observers and callers.
type Snapshot struct {
	Lines      []Line
	MerchantID string
	Subtotal   decimal.Decimal
}

// IsEmpty reports whether the snapshot has no lines.
func (s Snapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// ItemCount sums quantities across lines.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// Observer is notified after every committed mutation.
type Observer func(Snapshot)

// Store is the single owner of the cart slot.
type Store struct {
	mu        sync.Mutex
	slots     localstore.Store
	key       string
	lines     []Line
	observers map[int]Observer
	nextID    int
	validate  *validator.Validate
	logg      *logger.Logger
}

// NewStore builds a cart bound to the slot named key. Call Load before use.
func NewStore(slots localstore.Store, key string, logg *logger.Logger) (*Store, error) {
	if slots == nil {
		return nil, fmt.Errorf("local store required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("cart slot key required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Store{
		slots:     slots,
		key:       key,
		observers: map[int]Observer{},
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logg:      logg,
	}, nil
}

// Load replaces the in-memory cart with the persisted slot. A missing slot is
// an empty cart; an unreadable one is discarded.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.slots.Get(ctx, s.key)
	if stdErrors.Is(err, localstore.ErrNotFound) {
		raw = ""
	} else if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read cart")
	}

	var lines []Line
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &lines); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "discarding unreadable cart snapshot")
			lines = nil
		}
	}
	lines = sanitize(lines)

	s.mu.Lock()
	s.lines = lines
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// AddItem inserts item at quantity one or bumps an existing line.
func (s *Store) AddItem(ctx context.Context, item Item, merchantID string) error {
	if err := s.validate.Struct(item); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item")
	}
	if strings.TrimSpace(merchantID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "merchant id required")
	}
	if !item.UnitPrice.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "item price must be positive")
	}
	if !item.IsActive {
		return ErrItemInactive
	}

	return s.mutate(ctx, func(lines []Line) ([]Line, error) {
		if len(lines) > 0 && lines[0].MerchantID != merchantID {
			return nil, ErrCrossMerchant
		}
		for i := range lines {
			if lines[i].ItemID == item.ID {
				lines[i].Quantity++
				return lines, nil
			}
		}
		return append(lines, Line{
			ItemID:       item.ID,
			Name:         item.Name,
			Description:  item.Description,
			UnitPrice:    item.UnitPrice,
			Quantity:     1,
			MerchantID:   merchantID,
			MerchantName: item.MerchantName,
			DietType:     item.DietType.OrDefault(),
			Category:     item.Category,
			ImageRef:     item.ImageRef,
		}), nil
	})
}

// SetQuantity overwrites a line's quantity; anything below one removes it.
func (s *Store) SetQuantity(ctx context.Context, itemID string, quantity int) error {
	return s.mutate(ctx, func(lines []Line) ([]Line, error) {
		idx := indexOf(lines, itemID)
		if idx < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item is not in the cart")
		}
		if quantity < 1 {
			return append(lines[:idx], lines[idx+1:]...), nil
		}
		lines[idx].Quantity = quantity
		return lines, nil
	})
}

// RemoveItem drops the line for itemID. Unknown ids are ignored.
func (s *Store) RemoveItem(ctx context.Context, itemID string) error {
	return s.mutate(ctx, func(lines []Line) ([]Line, error) {
		idx := indexOf(lines, itemID)
		if idx < 0 {
			return lines, nil
		}
		return append(lines[:idx], lines[idx+1:]...), nil
	})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func([]Line) ([]Line, error) {
		return nil, nil
	})
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Lines returns a copy of the current lines in insertion order.
func (s *Store) Lines() []Line {
	return s.Snapshot().Lines
}

// Subtotal is the sum of unit price times quantity over all lines.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return subtotal(s.lines)
}

// MerchantID returns the merchant every line belongs to, or "" when empty.
func (s *Store) MerchantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[0].MerchantID
}

// Len returns the number of distinct lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Subscribe registers fn for change notifications and returns its cancel func.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) mutate(ctx context.Context, fn func([]Line) ([]Line, error)) error {
	s.mu.Lock()
	next, err := fn(copyLines(s.lines))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.persistLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lines = next
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *Store) persistLocked(ctx context.Context, lines []Line) error {
	if lines == nil {
		lines = []Line{}
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart")
	}
	if err := s.slots.Put(ctx, s.key, string(payload)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
	return nil
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Lines: copyLines(s.lines), Subtotal: subtotal(s.lines)}
	if len(s.lines) > 0 {
		snap.MerchantID = s.lines[0].MerchantID
	}
	return snap
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func subtotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

func indexOf(lines []Line, itemID string) int {
	for i := range lines {
		if lines[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

func copyLines(lines []Line) []Line {
	if len(lines) == 0 {
		return nil
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// sanitize drops lines a previous version could have written with a
// non-positive quantity or a blank id.
func sanitize(lines []Line) []Line {
	out := lines[:0]
	for _, l := range lines {
		if l.ItemID == "" || l.Quantity < 1 {
			continue
		}
		l.DietType = l.DietType.OrDefault()
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
