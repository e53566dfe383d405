package cart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/localstore"
)

func newTestStore(t *testing.T) (*Store, *localstore.Memory) {
	t.Helper()
	slots := localstore.NewMemory()
	store, err := NewStore(slots, "cart", nil)
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	return store, slots
}

func item(id, price string) Item {
	return Item{ID: id, Name: "Item " + id, UnitPrice: decimal.RequireFromString(price), IsActive: true}
}

func TestAddItemInsertsThenIncrements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	require.NoError(t, store.AddItem(ctx, item("vada", "40.50"), "shop-1"))

	lines := store.Lines()
	require.Len(t, lines, 2)
	require.Equal(t, "dosa", lines[0].ItemID)
	require.Equal(t, 2, lines[0].Quantity)
	require.Equal(t, enums.DietTypeNonVeg, lines[0].DietType)
	require.True(t, store.Subtotal().Equal(decimal.RequireFromString("240.50")))
	require.Equal(t, "shop-1", store.MerchantID())
}

func TestAddItemCrossMerchantDoesNotMutate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, slots := newTestStore(t)

	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	before, err := slots.Get(ctx, "cart")
	require.NoError(t, err)

	err = store.AddItem(ctx, item("pizza", "250"), "shop-2")
	require.ErrorIs(t, err, ErrCrossMerchant)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	after, err := slots.Get(ctx, "cart")
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Len(t, store.Lines(), 1)
}

func TestAddItemRejectsInactiveAndInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	inactive := item("dosa", "100")
	inactive.IsActive = false
	require.ErrorIs(t, store.AddItem(ctx, inactive, "shop-1"), ErrItemInactive)

	require.Error(t, store.AddItem(ctx, item("free", "0"), "shop-1"))
	require.Error(t, store.AddItem(ctx, Item{Name: "no id", UnitPrice: decimal.NewFromInt(1), IsActive: true}, "shop-1"))
	require.Error(t, store.AddItem(ctx, item("dosa", "100"), ""))

	badDiet := item("dosa", "100")
	badDiet.DietType = enums.DietType("vegan")
	require.Error(t, store.AddItem(ctx, badDiet, "shop-1"))

	require.Zero(t, store.Len())
}

func TestSetQuantityBelowOneRemoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	require.NoError(t, store.SetQuantity(ctx, "dosa", 5))
	require.True(t, store.Subtotal().Equal(decimal.NewFromInt(500)))

	require.NoError(t, store.SetQuantity(ctx, "dosa", 0))
	require.Zero(t, store.Len())
	require.Empty(t, store.MerchantID())

	err := store.SetQuantity(ctx, "missing", 2)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestAddThenRemoveRestoresPriorState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	prior := store.Snapshot()

	require.NoError(t, store.AddItem(ctx, item("vada", "30"), "shop-1"))
	require.NoError(t, store.AddItem(ctx, item("vada", "30"), "shop-1"))
	require.NoError(t, store.SetQuantity(ctx, "vada", 1))
	require.NoError(t, store.SetQuantity(ctx, "vada", 0))

	require.Equal(t, prior.Lines, store.Snapshot().Lines)
	require.True(t, prior.Subtotal.Equal(store.Subtotal()))
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	require.NoError(t, store.RemoveItem(context.Background(), "ghost"))
}

func TestClearPersistsEmptyArray(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, slots := newTestStore(t)

	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	require.NoError(t, store.Clear(ctx))

	raw, err := slots.Get(ctx, "cart")
	require.NoError(t, err)
	require.Equal(t, "[]", raw)
	require.True(t, store.Snapshot().IsEmpty())
}

func TestPersistFailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, slots := newTestStore(t)

	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	slots.FailPut = errors.New("disk full")

	err := store.AddItem(ctx, item("dosa", "100"), "shop-1")
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	require.Equal(t, 1, store.Lines()[0].Quantity)
}

func TestLoadRestoresPersistedCart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, slots := newTestStore(t)
	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	require.NoError(t, store.SetQuantity(ctx, "dosa", 3))

	reopened, err := NewStore(slots, "cart", nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Load(ctx))
	require.Equal(t, store.Lines(), reopened.Lines())
}

func TestLoadDiscardsCorruptSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	slots := localstore.NewMemory()
	require.NoError(t, slots.Put(ctx, "cart", "{not json"))

	store, err := NewStore(slots, "cart", nil)
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))
	require.Zero(t, store.Len())
}

func TestSnapshotIsJSONCompatibleWithSlot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, slots := newTestStore(t)
	require.NoError(t, store.AddItem(ctx, item("dosa", "99.99"), "shop-1"))

	raw, err := slots.Get(ctx, "cart")
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Equal(t, "dosa", decoded[0]["itemId"])
	require.Equal(t, "shop-1", decoded[0]["merchantId"])
	require.Equal(t, float64(1), decoded[0]["quantity"])
}

func TestSubscribeNotifiesUntilCancelled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	var seen []int
	cancel := store.Subscribe(func(s Snapshot) { seen = append(seen, s.ItemCount()) })

	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))
	cancel()
	cancel()
	require.NoError(t, store.Clear(ctx))

	require.Equal(t, []int{1, 2}, seen)
}

func TestFailedMutationDoesNotNotify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.AddItem(ctx, item("dosa", "100"), "shop-1"))

	calls := 0
	defer store.Subscribe(func(Snapshot) { calls++ })()
	require.Error(t, store.AddItem(ctx, item("pizza", "1"), "shop-2"))
	require.Zero(t, calls)
}
