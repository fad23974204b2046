package rfq

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfqScope/internal/cache"
	"rfqScope/internal/maker"
	"rfqScope/internal/model"
	"rfqScope/internal/registry"
)

var (
	registryAddress = common.HexToAddress("0x8F9DA6d38939411340b19401E8c54Ea1f51B8f95")
	swapContract    = common.HexToAddress("0xD82E10B9A4107939e55fCCa9B53A9ede6CF2fC46")
	sender          = common.HexToAddress("0xDEF171Fe48CF0115B1d80b88dc8eAB59176FEe57")
	weth            = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc            = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	stakerA         = common.HexToAddress("0x000000000000000000000000000000000000000a")
	stakerB         = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

const (
	makerOne = "https://maker-one.example/rpc"
	makerTwo = "https://maker-two.example/rpc"
)

var pricingBody = fmt.Sprintf(`{"jsonrpc":"2.0","id":"1","result":[{
	"baseToken":%q,"quoteToken":%q,"minimum":"1",
	"bid":[["10","2000"]],"ask":[["10","2100"]]}]}`, weth.Hex(), usdc.Hex())

type fakeMakers struct {
	mu       sync.Mutex
	fetches  map[string]int
	down     map[string]bool
	orders   []maker.OrderRequest
	orderErr error
}

func newFakeMakers() *fakeMakers {
	return &fakeMakers{fetches: map[string]int{}, down: map[string]bool{}}
}

func (f *fakeMakers) AllPricingERC20(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[url]++
	if f.down[url] {
		return nil, errors.New("connection refused")
	}
	return []byte(pricingBody), nil
}

func (f *fakeMakers) OrderERC20(_ context.Context, _ string, req maker.OrderRequest) (maker.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	if f.orderErr != nil {
		return maker.Order{}, f.orderErr
	}
	return maker.Order{Nonce: "1", Expiry: "1700000100", SignerAmount: "4000", SenderAmount: "2"}, nil
}

func (f *fakeMakers) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[url]
}

type memorySource struct {
	mu   sync.Mutex
	logs []types.Log
	err  error
}

func (m *memorySource) GetLogs(_ context.Context, _ []common.Address, from, to uint64) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []types.Log
	for _, lg := range m.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func encodeLog(t *testing.T, kind registry.Kind, block uint64, index uint, staker common.Address, values ...interface{}) types.Log {
	t.Helper()
	registryABI, err := registry.ABI()
	require.NoError(t, err)
	event := registryABI.Events[kind.String()]
	data, err := event.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)
	return types.Log{
		Address:     registryAddress,
		Topics:      []common.Hash{event.ID, common.BytesToHash(staker.Bytes())},
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}
}

func makerLogs(t *testing.T, block uint64, staker common.Address, url string) []types.Log {
	return []types.Log{
		encodeLog(t, registry.KindSetServerURL, block, 0, staker, url),
		encodeLog(t, registry.KindAddProtocols, block, 1, staker, [][4]byte{registry.ProtocolRequestForQuoteERC20}),
		encodeLog(t, registry.KindAddTokens, block, 2, staker, []common.Address{weth, usdc}),
	}
}

func newAdapter(t *testing.T, cfg Config, source *memorySource, makers *fakeMakers, store cache.Store) *Adapter {
	t.Helper()
	cfg.RegistryAddress = registryAddress
	cfg.RegistryBlock = 90
	cfg.ChainID = 1
	cfg.SwapContract = swapContract
	cfg.WrappedNative = weth
	cfg.SenderWallet = sender
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	if source == nil {
		source = &memorySource{}
	}
	a, err := New(cfg, Deps{Source: source, Makers: makers, Store: store}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.ReleaseResources()
		a.Wait()
	})
	return a
}

func ether() model.Token {
	return model.Token{Address: model.NativeTokenAddress, Decimals: 18}
}

func usdcToken() model.Token {
	return model.Token{Address: usdc, Decimals: 6}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{Store: cache.NewMemoryStore()}, nil)
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Makers: newFakeMakers()}, nil)
	assert.Error(t, err)
}

func TestInitializeDiscoversAndPollsMakers(t *testing.T) {
	source := &memorySource{logs: makerLogs(t, 95, stakerA, makerOne)}
	makers := newFakeMakers()
	store := cache.NewMemoryStore()
	a := newAdapter(t, Config{}, source, makers, store)

	require.NoError(t, a.InitializePricing(context.Background(), 100))

	assert.Eventually(t, func() bool {
		_, ok, _ := store.Get(context.Background(), maker.PricingKey(makerOne))
		return ok
	}, time.Second, 5*time.Millisecond)

	ids := a.PoolIdentifiers(ether(), usdcToken(), model.SideSell)
	require.Equal(t, []string{PoolIdentifier("AirSwap", weth, usdc, makerOne)}, ids)
}

func TestHandleBlockRestartsPollingWithNewMakers(t *testing.T) {
	source := &memorySource{logs: makerLogs(t, 95, stakerA, makerOne)}
	makers := newFakeMakers()
	a := newAdapter(t, Config{}, source, makers, cache.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, a.InitializePricing(ctx, 100))

	err := a.HandleBlock(ctx, makerLogs(t, 101, stakerB, makerTwo), model.BlockHeader{Number: 101})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return makers.fetchCount(makerTwo) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, a.PoolIdentifiers(ether(), usdcToken(), model.SideSell), 2)
}

func TestInitializePricingSurfacesSourceFailure(t *testing.T) {
	source := &memorySource{err: errors.New("rpc down")}
	a := newAdapter(t, Config{}, source, newFakeMakers(), cache.NewMemoryStore())

	err := a.InitializePricing(context.Background(), 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
	assert.Empty(t, a.PoolIdentifiers(ether(), usdcToken(), model.SideSell))
}

func TestInitializePricingAfterReleaseResumesPolling(t *testing.T) {
	source := &memorySource{logs: makerLogs(t, 95, stakerA, makerOne)}
	makers := newFakeMakers()
	a := newAdapter(t, Config{}, source, makers, cache.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, a.InitializePricing(ctx, 100))
	assert.Eventually(t, func() bool { return makers.fetchCount(makerOne) >= 1 }, time.Second, 5*time.Millisecond)
	a.ReleaseResources()
	a.Wait()
	released := makers.fetchCount(makerOne)

	require.NoError(t, a.InitializePricing(ctx, 101))
	assert.Eventually(t, func() bool { return makers.fetchCount(makerOne) > released }, time.Second, 5*time.Millisecond)
}

func TestOverrideNeedsNoLogSource(t *testing.T) {
	makers := newFakeMakers()
	deps := Deps{Makers: makers, Store: cache.NewMemoryStore()}

	_, err := New(Config{RegistryAddress: registryAddress}, deps, nil)
	require.Error(t, err)

	a, err := New(Config{
		ChainID:            1,
		RegistryAddress:    registryAddress,
		WrappedNative:      weth,
		OverrideServerURLs: []string{makerOne},
		PollInterval:       time.Hour,
	}, deps, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.ReleaseResources()
		a.Wait()
	})

	ctx := context.Background()
	require.NoError(t, a.InitializePricing(ctx, 100))
	assert.Eventually(t, func() bool { return makers.fetchCount(makerOne) >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, a.HandleBlock(ctx, makerLogs(t, 101, stakerB, makerTwo), model.BlockHeader{Number: 101}))
	assert.Equal(t, []string{PoolIdentifier("AirSwap", weth, usdc, makerOne)}, a.PoolIdentifiers(ether(), usdcToken(), model.SideSell))
}

func TestSlaveDoesNotPoll(t *testing.T) {
	source := &memorySource{logs: makerLogs(t, 95, stakerA, makerOne)}
	makers := newFakeMakers()
	a := newAdapter(t, Config{Slave: true, PollInterval: 5 * time.Millisecond}, source, makers, cache.NewMemoryStore())

	require.NoError(t, a.InitializePricing(context.Background(), 100))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, makers.fetchCount(makerOne))
	assert.Len(t, a.PoolIdentifiers(ether(), usdcToken(), model.SideSell), 1)
}

func TestLazyFetchMatchesPolledPricing(t *testing.T) {
	ctx := context.Background()
	amounts := []*big.Int{big.NewInt(2), big.NewInt(5)}

	polledStore := cache.NewMemoryStore()
	polledMakers := newFakeMakers()
	polled := newAdapter(t, Config{OverrideServerURLs: []string{makerOne}}, nil, polledMakers, polledStore)
	require.NoError(t, polled.InitializePricing(ctx, 100))
	assert.Eventually(t, func() bool {
		_, ok, _ := polledStore.Get(ctx, maker.PricingKey(makerOne))
		return ok
	}, time.Second, 5*time.Millisecond)
	fromPoll := polled.PricesVolume(ctx, ether(), usdcToken(), amounts, model.SideSell, nil)
	assert.Equal(t, 1, polledMakers.fetchCount(makerOne))

	lazyStore := cache.NewMemoryStore()
	lazyMakers := newFakeMakers()
	lazy := newAdapter(t, Config{OverrideServerURLs: []string{makerOne}, Slave: true}, nil, lazyMakers, lazyStore)
	require.NoError(t, lazy.InitializePricing(ctx, 100))
	fromLazy := lazy.PricesVolume(ctx, ether(), usdcToken(), amounts, model.SideSell, nil)

	assert.Equal(t, fromPoll, fromLazy)
	assert.Equal(t, 1, lazyMakers.fetchCount(makerOne))
	_, ok, err := lazyStore.Get(ctx, maker.PricingKey(makerOne))
	require.NoError(t, err)
	assert.True(t, ok)

	again := lazy.PricesVolume(ctx, ether(), usdcToken(), amounts, model.SideSell, nil)
	assert.Equal(t, fromLazy, again)
	assert.Equal(t, 1, lazyMakers.fetchCount(makerOne))
}

func TestPricesVolumeSides(t *testing.T) {
	a := newAdapter(t, Config{OverrideServerURLs: []string{makerOne}, Slave: true}, nil, newFakeMakers(), cache.NewMemoryStore())
	ctx := context.Background()

	sell := a.PricesVolume(ctx, ether(), usdcToken(), []*big.Int{big.NewInt(2)}, model.SideSell, nil)
	require.Len(t, sell, 1)
	assert.Equal(t, "4000", sell[0].Prices[0].String())
	assert.Equal(t, uint64(DefaultGasCost), sell[0].GasCost)
	assert.Equal(t, "AirSwap", sell[0].Exchange)
	assert.Equal(t, makerOne, sell[0].Data.URL)
	assert.Equal(t, []common.Address{swapContract}, sell[0].PoolAddresses)
	assert.Equal(t, PoolIdentifier("AirSwap", weth, usdc, makerOne), sell[0].PoolIdentifier)

	buy := a.PricesVolume(ctx, usdcToken(), ether(), []*big.Int{big.NewInt(2)}, model.SideBuy, nil)
	require.Len(t, buy, 1)
	assert.Equal(t, "4200", buy[0].Prices[0].String())
}

func TestPricesVolumeZeroesUnquotableAmounts(t *testing.T) {
	a := newAdapter(t, Config{OverrideServerURLs: []string{makerOne}, Slave: true}, nil, newFakeMakers(), cache.NewMemoryStore())

	amounts := []*big.Int{big.NewInt(0), big.NewInt(3), big.NewInt(11)}
	result := a.PricesVolume(context.Background(), ether(), usdcToken(), amounts, model.SideSell, nil)
	require.Len(t, result, 1)

	got := make([]string, len(result[0].Prices))
	for i, p := range result[0].Prices {
		got[i] = p.String()
	}
	assert.Equal(t, []string{"0", "6000", "0"}, got)
}

func TestPricesVolumeMakerDown(t *testing.T) {
	makers := newFakeMakers()
	makers.down[makerOne] = true
	a := newAdapter(t, Config{OverrideServerURLs: []string{makerOne, makerTwo}, Slave: true}, nil, makers, cache.NewMemoryStore())

	result := a.PricesVolume(context.Background(), ether(), usdcToken(), []*big.Int{big.NewInt(1)}, model.SideSell, nil)
	require.Len(t, result, 2)
	assert.Empty(t, result[0].Prices)
	require.Len(t, result[1].Prices, 1)
	assert.Equal(t, "2000", result[1].Prices[0].String())
}

func TestPricesVolumeSkipsForeignPools(t *testing.T) {
	a := newAdapter(t, Config{OverrideServerURLs: []string{makerOne}, Slave: true}, nil, newFakeMakers(), cache.NewMemoryStore())

	limit := []string{"Other-0x01-0x02-x", PoolIdentifier("AirSwap", weth, usdc, makerOne)}
	result := a.PricesVolume(context.Background(), ether(), usdcToken(), []*big.Int{big.NewInt(1)}, model.SideSell, limit)
	require.Len(t, result, 1)
	assert.Equal(t, makerOne, result[0].Data.URL)
}

func TestPreProcessOrder(t *testing.T) {
	makers := newFakeMakers()
	a := newAdapter(t, Config{OverrideServerURLs: []string{makerOne}}, nil, makers, cache.NewMemoryStore())
	origin := common.HexToAddress("0x00000000000000000000000000000000000000f0")

	signed, err := a.PreProcessOrder(context.Background(), makerOne, ether(), usdcToken(), model.SideSell, big.NewInt(2), origin)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000100), signed.Deadline)
	assert.Equal(t, makerOne, signed.URL)

	require.Len(t, makers.orders, 1)
	req := makers.orders[0]
	assert.Equal(t, model.SideSell, req.Side)
	assert.Equal(t, usdc, req.SignerToken)
	assert.Equal(t, model.NativeTokenAddress, req.SenderToken)
	assert.Equal(t, sender, req.SenderWallet)
	assert.Equal(t, origin, req.ProxyingFor)
	assert.Equal(t, uint64(MinExpiry), req.MinExpiry)
	assert.Equal(t, "2", req.Amount.String())

	_, err = a.PreProcessOrder(context.Background(), "", ether(), usdcToken(), model.SideSell, big.NewInt(2), origin)
	assert.Error(t, err)

	makers.orderErr = errors.New("not serving pair")
	_, err = a.PreProcessOrder(context.Background(), makerOne, ether(), usdcToken(), model.SideSell, big.NewInt(2), origin)
	assert.ErrorContains(t, err, "not serving pair")
}

func TestPoolIdentifierRoundTrip(t *testing.T) {
	url := "https://my-maker.example/rpc?x=1"
	id := PoolIdentifier("AirSwap", weth, usdc, url)
	assert.Equal(t,
		"AirSwap-0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48-0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2-https%3A%2F%2Fmy-maker.example%2Frpc%3Fx%3D1",
		id,
	)

	got, err := ParsePoolIdentifier("AirSwap", id)
	require.NoError(t, err)
	assert.Equal(t, url, got)

	for _, bad := range []string{"Other-" + id, "AirSwap-0x1-0x2", "AirSwap-nothex-0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48-u"} {
		_, err := ParsePoolIdentifier("AirSwap", bad)
		assert.Error(t, err, bad)
	}
}
