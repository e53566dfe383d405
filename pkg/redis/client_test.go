package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pickup-checkout/pkg/config"
	"github.com/angelmondragon/pickup-checkout/pkg/localstore"
)

func TestClaimCallbackOnlyOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	first, err := client.ClaimCallback(ctx, "success", "TXN1", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Fatalf("expected first claim to win")
	}

	again, err := client.ClaimCallback(ctx, "success", "TXN1", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again {
		t.Fatalf("expected duplicate claim to be rejected")
	}

	other, err := client.ClaimCallback(ctx, "failure", "TXN1", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !other {
		t.Fatalf("a different outcome is a separate claim")
	}
}

func TestSlotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	slots := client.Slots("session-42")

	if _, err := slots.Get(ctx, "cart"); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := slots.Put(ctx, "cart", "[]"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, ok := mock.data["pickup:slot:session-42:cart"]; !ok {
		t.Fatalf("expected namespaced key, got %v", mock.data)
	}
	got, err := slots.Get(ctx, "cart")
	if err != nil || got != "[]" {
		t.Fatalf("unexpected get result %q %v", got, err)
	}
	if err := slots.Delete(ctx, "cart"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := slots.Get(ctx, "cart"); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.SlotKey("device", "cart"); got != "pickup:slot:device:cart" {
		t.Fatalf("unexpected slot key %s", got)
	}
	if got := client.SlotKey("", "cart"); got != "pickup:slot:cart" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
	if got := client.CallbackKey("failure", "TXN9"); got != "pickup:gateway_callback:failure:TXN9" {
		t.Fatalf("unexpected callback key %s", got)
	}
}

func TestOptionsFromConfigRequiresEndpoint(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/3", PoolSize: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 3 || opts.PoolSize != 7 {
		t.Fatalf("unexpected options db=%d pool=%d", opts.DB, opts.PoolSize)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
}

type mockCmdable struct {
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
