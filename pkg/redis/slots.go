package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pickup-checkout/pkg/localstore"
)

// SlotStore exposes redis as a localstore.Store for hosted sessions, where the
// "device" is a server-side session identified by namespace.
type SlotStore struct {
	client    *Client
	namespace string
}

// Slots returns a slot store scoped to namespace.
func (c *Client) Slots(namespace string) *SlotStore {
	return &SlotStore{client: c, namespace: namespace}
}

func (s *SlotStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.client.SlotKey(s.namespace, key))
	if errors.Is(err, redis.Nil) {
		return "", localstore.ErrNotFound
	}
	return val, err
}

func (s *SlotStore) Put(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.client.SlotKey(s.namespace, key), value, 0)
}

func (s *SlotStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.client.SlotKey(s.namespace, key))
}
