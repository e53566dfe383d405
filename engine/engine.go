// Package engine assembles the pickup checkout services from configuration so
// a host application can embed them behind its own UI.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pickup-checkout/internal/cart"
	"github.com/angelmondragon/pickup-checkout/internal/checkout"
	"github.com/angelmondragon/pickup-checkout/internal/coupons"
	"github.com/angelmondragon/pickup-checkout/internal/gateway"
	"github.com/angelmondragon/pickup-checkout/internal/identity"
	"github.com/angelmondragon/pickup-checkout/internal/orders"
	"github.com/angelmondragon/pickup-checkout/pkg/config"
	"github.com/angelmondragon/pickup-checkout/pkg/db"
	"github.com/angelmondragon/pickup-checkout/pkg/localstore"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/metrics"
	"github.com/angelmondragon/pickup-checkout/pkg/migrate"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox"
	"github.com/angelmondragon/pickup-checkout/pkg/payu"
	"github.com/angelmondragon/pickup-checkout/pkg/redis"
)

// Options carries what configuration cannot: the host's payment surface and
// where it keeps the signed-in user's token.
type Options struct {
	Surface     checkout.PaymentSurface
	TokenSource identity.TokenSource
	OnStage     checkout.StageHook
	Logger      *logger.Logger
	Registerer  prometheus.Registerer
}

type Engine struct {
	Cart     *cart.Store
	Coupons  coupons.Engine
	Orders   orders.Service
	Checkout checkout.Service
	Identity identity.Provider
	Metrics  *metrics.CheckoutMetrics

	logg    *logger.Logger
	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New connects the document and local stores and builds every service. On
// error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Engine, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if opts.Surface == nil {
		return nil, fmt.Errorf("payment surface required")
	}
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	e := &Engine{logg: logg, Metrics: metrics.NewCheckoutMetrics(opts.Registerer)}
	defer func() {
		if err != nil {
			err = multierr.Append(err, e.Close())
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	e.track("document store", dbClient)
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return nil, err
	}

	slots, err := e.openLocalStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e.Cart, err = cart.NewStore(slots, cfg.LocalStore.CartKey, logg)
	if err != nil {
		return nil, err
	}
	if err := e.Cart.Load(ctx); err != nil {
		return nil, err
	}
	journal, err := checkout.NewJournal(slots, cfg.LocalStore.JournalKey)
	if err != nil {
		return nil, err
	}

	e.Coupons, err = coupons.NewEngine(coupons.NewRepository(dbClient.DB()), e.Metrics, logg)
	if err != nil {
		return nil, err
	}

	watcher, err := e.openWatcher(cfg)
	if err != nil {
		return nil, err
	}
	e.Orders, err = orders.NewService(orders.ServiceParams{
		Repo:    orders.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Outbox:  outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Watcher: watcher,
		Metrics: e.Metrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	e.Identity, err = identity.NewTokenProvider(cfg.Identity, opts.TokenSource, logg)
	if err != nil {
		return nil, err
	}
	interpreter, err := gateway.NewInterpreter(cfg.PayU.SuccessURL, cfg.PayU.FailureURL)
	if err != nil {
		return nil, err
	}

	e.Checkout, err = checkout.NewService(checkout.ServiceParams{
		Identity: e.Identity,
		Cart:     e.Cart,
		Coupons:  e.Coupons,
		Orders:   e.Orders,
		Merchant: payu.Merchant{
			Key:        cfg.PayU.MerchantKey,
			Salt:       cfg.PayU.MerchantSalt,
			Endpoint:   cfg.PayU.Endpoint,
			SuccessURL: cfg.PayU.SuccessURL,
			FailureURL: cfg.PayU.FailureURL,
		},
		ProductInfo:    cfg.PayU.ProductInfo,
		Interpreter:    interpreter,
		Surface:        opts.Surface,
		Journal:        journal,
		GatewayTimeout: cfg.PayU.GatewayTimeout,
		OnStage:        opts.OnStage,
		Metrics:        e.Metrics,
		Logger:         logg,
	})
	if err != nil {
		return nil, err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"local_store": cfg.LocalStore.Driver,
		"db_driver":   cfg.DB.Driver,
	}), "checkout engine ready")
	return e, nil
}

func (e *Engine) openLocalStore(ctx context.Context, cfg *config.Config) (localstore.Store, error) {
	if strings.EqualFold(cfg.LocalStore.Driver, config.LocalStoreRedis) {
		client, err := redis.New(ctx, cfg.Redis, e.logg)
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
		e.track("redis", client)
		return client.Slots(cfg.LocalStore.Namespace), nil
	}
	store, err := localstore.OpenSQLite(ctx, cfg.LocalStore.Path, e.logg)
	if err != nil {
		return nil, err
	}
	e.track("local store", store)
	return store, nil
}

// openWatcher listens for order changes on postgres and falls back to
// polling on sqlite, which has no notification channel.
func (e *Engine) openWatcher(cfg *config.Config) (orders.Watcher, error) {
	if cfg.DB.IsSQLite() {
		return orders.PollWatcher{}, nil
	}
	notifier, err := orders.NewPGNotifier(cfg.DB.DSN, cfg.Tracking, e.logg)
	if err != nil {
		return nil, fmt.Errorf("order tracking: %w", err)
	}
	e.track("order listener", notifier)
	return notifier, nil
}

func (e *Engine) track(name string, c io.Closer) {
	e.closers = append(e.closers, namedCloser{name: name, c: c})
}

// Close releases the engine's connections in reverse order of opening.
func (e *Engine) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		closer := e.closers[i]
		if cerr := closer.c.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", closer.name, cerr))
		}
	}
	e.closers = nil
	return err
}
