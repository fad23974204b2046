package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rfqScope/internal/cache"
	"rfqScope/internal/maker"
	"rfqScope/internal/metrics"
	"rfqScope/internal/model"
	"rfqScope/internal/poller"
	"rfqScope/internal/pricing"
	"rfqScope/internal/registry"
	"rfqScope/internal/statesync"
	"rfqScope/internal/storage"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultCacheTTL     = 3 * time.Second
	DefaultGasCost      = 100_000
	MinExpiry           = 100_000
)

// Makers is the maker transport the adapter depends on.
type Makers interface {
	AllPricingERC20(ctx context.Context, url string) ([]byte, error)
	OrderERC20(ctx context.Context, url string, req maker.OrderRequest) (maker.Order, error)
}

// Config configures an Adapter.
type Config struct {
	DexKey          string
	ChainID         uint64
	RegistryAddress common.Address
	RegistryBlock   uint64
	SwapContract    common.Address
	WrappedNative   common.Address
	// SenderWallet is the wallet that submits orders to the swap contract.
	SenderWallet common.Address
	// OverrideServerURLs, when non-empty, replaces registry discovery.
	OverrideServerURLs []string
	PollInterval       time.Duration
	CacheTTL           time.Duration
	GasCost            uint64
	// Slave instances read pricing from the shared cache and never poll.
	Slave bool
}

func (c Config) withDefaults() Config {
	if c.DexKey == "" {
		c.DexKey = "AirSwap"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.GasCost == 0 {
		c.GasCost = DefaultGasCost
	}
	return c
}

// Deps are the collaborators of an Adapter.
type Deps struct {
	// Source may be nil when Config.OverrideServerURLs is set.
	Source       statesync.LogSource
	Makers       Makers
	Store        cache.Store
	DecodeErrors storage.DecodeErrorSink
	Metrics      *metrics.Metrics
}

// PoolData identifies the maker a price came from.
type PoolData struct {
	URL string `json:"url"`
}

// PoolPrices is the quote of one maker for a list of amounts.
type PoolPrices struct {
	Exchange       string           `json:"exchange"`
	PoolIdentifier string           `json:"poolIdentifier"`
	PoolAddresses  []common.Address `json:"poolAddresses"`
	Prices         []*big.Int       `json:"prices"`
	Unit           *big.Int         `json:"unit"`
	GasCost        uint64           `json:"gasCost"`
	Data           PoolData         `json:"data"`
}

// SignedOrder is a maker order ready for settlement.
type SignedOrder struct {
	URL      string      `json:"url"`
	Order    maker.Order `json:"order"`
	Deadline uint64      `json:"deadline"`
}

// Adapter discovers makers through the registry, polls their pricing into
// the cache and prices swaps from the cache.
type Adapter struct {
	cfg      Config
	registry *registry.Registry
	makers   Makers
	store    cache.Store
	poller   *poller.Poller[[]pricing.Pricing]
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Makers == nil {
		return nil, fmt.Errorf("maker client is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	cfg = cfg.withDefaults()
	logger = logger.With(zap.String("dex", cfg.DexKey))

	reg, err := registry.New(registry.Config{
		Name:            cfg.DexKey + "-registry",
		Address:         cfg.RegistryAddress,
		DeploymentBlock: cfg.RegistryBlock,
		Source:          deps.Source,
		OverrideURLs:    cfg.OverrideServerURLs,
		DecodeErrors:    deps.DecodeErrors,
		Metrics:         deps.Metrics,
	}, logger)
	if err != nil {
		return nil, err
	}

	p, err := poller.New[[]pricing.Pricing](cfg.PollInterval, logger,
		poller.WithMetrics(deps.Metrics),
		poller.WithTaskTimeout(cfg.PollInterval),
	)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		cfg:      cfg,
		registry: reg,
		makers:   deps.Makers,
		store:    deps.Store,
		poller:   p,
		metrics:  deps.Metrics,
		logger:   logger,
	}, nil
}

// Registry exposes the underlying registry.
func (a *Adapter) Registry() *registry.Registry {
	return a.registry
}

func (a *Adapter) overridden() bool {
	return len(a.cfg.OverrideServerURLs) > 0
}

// InitializePricing synchronizes the registry at blockNumber and starts
// polling the discovered makers. With an override list the registry is not
// scanned and the override makers are polled directly.
func (a *Adapter) InitializePricing(ctx context.Context, blockNumber uint64) error {
	if a.overridden() {
		if !a.cfg.Slave {
			a.startWorker(a.cfg.OverrideServerURLs)
		}
		return nil
	}

	if !a.cfg.Slave {
		a.registry.Subscribe(a.startWorker)
	}
	if err := a.registry.Initialize(ctx, blockNumber, statesync.WithForceRegenerate()); err != nil {
		return fmt.Errorf("initialize pricing: %w", err)
	}
	// An unchanged re-initialise does not notify; resume a released poller.
	if urls := a.registry.ServerURLs(nil, nil); !a.cfg.Slave && len(urls) > 0 && !a.poller.Running() {
		a.startWorker(urls)
	}
	return nil
}

// HandleBlock feeds a block's registry logs to the registry.
func (a *Adapter) HandleBlock(ctx context.Context, logs []types.Log, header model.BlockHeader) error {
	if a.overridden() {
		return nil
	}
	return a.registry.ProcessBlockLogs(ctx, logs, header)
}

// ReleaseResources stops polling.
func (a *Adapter) ReleaseResources() {
	a.poller.Stop()
}

// Wait blocks until in-flight polls finish. Call after ReleaseResources.
func (a *Adapter) Wait() {
	a.poller.Wait()
}

func (a *Adapter) startWorker(urls []string) {
	if len(urls) == 0 {
		a.logger.Info("no maker servers to poll")
		a.poller.Stop()
		return
	}
	tasks := make([]poller.Task[[]pricing.Pricing], 0, len(urls))
	for _, url := range urls {
		tasks = append(tasks, a.pricingTask(url))
	}
	a.poller.Start(tasks)
}

func (a *Adapter) pricingTask(url string) poller.Task[[]pricing.Pricing] {
	return poller.Task[[]pricing.Pricing]{
		Request: poller.Request{URL: url},
		Fetch: func(ctx context.Context, req poller.Request) ([]byte, error) {
			return a.makers.AllPricingERC20(ctx, req.URL)
		},
		Cast:   maker.CastPricing,
		Handle: a.storePricing,
	}
}

func (a *Adapter) storePricing(ctx context.Context, req poller.Request, entries []pricing.Pricing) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal pricing: %w", err)
	}
	return a.store.Set(ctx, maker.PricingKey(req.URL), data, a.cfg.CacheTTL)
}

// WrapNative maps the native asset placeholder to the wrapped native token.
func (a *Adapter) WrapNative(token model.Token) model.Token {
	if token.IsNative() {
		return model.Token{Address: a.cfg.WrappedNative, Decimals: token.Decimals}
	}
	return token
}

// PoolIdentifiers returns one identifier per maker quoting the pair.
func (a *Adapter) PoolIdentifiers(src, dst model.Token, _ model.SwapSide) []string {
	src = a.WrapNative(src)
	dst = a.WrapNative(dst)
	urls := a.registry.ServerURLs(&src.Address, &dst.Address)

	ids := make([]string, 0, len(urls))
	for _, url := range urls {
		ids = append(ids, PoolIdentifier(a.cfg.DexKey, src.Address, dst.Address, url))
	}
	return ids
}

// PricesVolume prices amounts of src against dst at every maker in
// limitPools, or every discovered maker when limitPools is nil. Amounts a
// maker cannot quote are priced at zero.
func (a *Adapter) PricesVolume(ctx context.Context, src, dst model.Token, amounts []*big.Int, side model.SwapSide, limitPools []string) []PoolPrices {
	src = a.WrapNative(src)
	dst = a.WrapNative(dst)
	if limitPools == nil {
		limitPools = a.PoolIdentifiers(src, dst, side)
	}

	base, quote := src.Address, dst.Address
	if side == model.SideBuy {
		base, quote = dst.Address, src.Address
	}

	result := make([]PoolPrices, 0, len(limitPools))
	for _, id := range limitPools {
		url, err := ParsePoolIdentifier(a.cfg.DexKey, id)
		if err != nil {
			a.logger.Warn("skip pool identifier", zap.String("pool", id), zap.Error(err))
			continue
		}

		prices := []*big.Int{}
		if entries, ok := a.pricingFor(ctx, url); ok {
			for _, amount := range amounts {
				cost, err := pricing.CostForAmount(side, amount, base.Hex(), quote.Hex(), entries)
				if err != nil {
					a.logger.Debug("price amount failed",
						zap.String("url", url),
						zap.String("amount", amount.String()),
						zap.Error(err),
					)
					cost = big.NewInt(0)
				}
				prices = append(prices, cost)
			}
		}

		result = append(result, PoolPrices{
			Exchange:       a.cfg.DexKey,
			PoolIdentifier: PoolIdentifier(a.cfg.DexKey, src.Address, dst.Address, url),
			PoolAddresses:  []common.Address{a.cfg.SwapContract},
			Prices:         prices,
			Unit:           big.NewInt(1),
			GasCost:        a.cfg.GasCost,
			Data:           PoolData{URL: url},
		})
	}
	return result
}

// pricingFor reads a maker's pricing from the cache and fetches it
// synchronously on a miss, writing it back with the polling TTL.
func (a *Adapter) pricingFor(ctx context.Context, url string) ([]pricing.Pricing, bool) {
	raw, ok, err := a.store.Get(ctx, maker.PricingKey(url))
	if err != nil {
		a.logger.Warn("cache read failed", zap.String("url", url), zap.Error(err))
	}
	if ok {
		var entries []pricing.Pricing
		if err := json.Unmarshal(raw, &entries); err == nil {
			a.metrics.CacheLookup(metrics.CacheHit)
			return entries, true
		}
		a.logger.Warn("discard unreadable cached pricing", zap.String("url", url))
	}

	a.metrics.CacheLookup(metrics.CacheMiss)
	entries, err := a.poller.Run(ctx, a.pricingTask(url))
	if err != nil {
		a.logger.Warn("direct pricing fetch failed", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	a.metrics.CacheLookup(metrics.CacheLazyFill)
	return entries, true
}

// PreProcessOrder requests a signed order for amount of src from the maker
// at url.
func (a *Adapter) PreProcessOrder(ctx context.Context, url string, src, dst model.Token, side model.SwapSide, amount *big.Int, txOrigin common.Address) (SignedOrder, error) {
	if url == "" {
		return SignedOrder{}, errors.New("maker url is required")
	}
	order, err := a.makers.OrderERC20(ctx, url, maker.OrderRequest{
		Side:         side,
		ChainID:      a.cfg.ChainID,
		SwapContract: a.cfg.SwapContract,
		SignerToken:  dst.Address,
		SenderToken:  src.Address,
		Amount:       amount,
		SenderWallet: a.cfg.SenderWallet,
		MinExpiry:    MinExpiry,
		ProxyingFor:  txOrigin,
	})
	if err != nil {
		return SignedOrder{}, fmt.Errorf("order from %s: %w", url, err)
	}
	deadline, err := order.ExpiryUnix()
	if err != nil {
		return SignedOrder{}, fmt.Errorf("order expiry: %w", err)
	}
	return SignedOrder{URL: url, Order: order, Deadline: deadline}, nil
}
