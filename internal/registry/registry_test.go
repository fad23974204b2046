package registry

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfqScope/internal/model"
	"rfqScope/internal/statesync"
)

func newTestRegistry(t *testing.T, source *memorySource, override []string) *Registry {
	t.Helper()
	r, err := New(Config{
		Address:         registryAddress,
		DeploymentBlock: 50,
		Source:          source,
		OverrideURLs:    override,
	}, nil)
	require.NoError(t, err)
	return r
}

func TestRegistryEndToEnd(t *testing.T) {
	source := &memorySource{}
	r := newTestRegistry(t, source, nil)

	var updates [][]string
	r.Subscribe(func(urls []string) {
		updates = append(updates, urls)
	})

	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx, 100))
	assert.Empty(t, r.ServerURLs(nil, nil))
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0])

	// A URL counts once its staker speaks RFQ.
	block101 := []types.Log{
		encodeLog(t, KindAddProtocols, 101, 0, stakerA, protocolIDs(ProtocolRequestForQuoteERC20)),
		encodeLog(t, KindSetServerURL, 101, 1, stakerA, "http://x"),
	}
	header101 := model.BlockHeader{Number: 101, Hash: common.HexToHash("0x101")}
	require.NoError(t, r.ProcessBlockLogs(ctx, block101, header101))
	assert.Equal(t, []string{"http://x"}, r.ServerURLs(nil, nil))
	require.Len(t, updates, 2)
	assert.Equal(t, []string{"http://x"}, updates[1])

	// Re-delivering block 101 is a reorg signal and rebuilds from the source.
	source.logs = block101
	calls := source.calls
	require.NoError(t, r.ProcessBlockLogs(ctx, block101, header101))
	assert.Equal(t, calls+1, source.calls)
	assert.Equal(t, []string{"http://x"}, r.ServerURLs(nil, nil))
	assert.Len(t, updates, 2)

	block, ok := r.LastBlock()
	require.True(t, ok)
	assert.Equal(t, uint64(101), block)
	assert.Equal(t, statesync.StatusReady, r.Status())
}

func TestRegistryURLWithoutProtocolIsHidden(t *testing.T) {
	source := &memorySource{}
	r := newTestRegistry(t, source, nil)

	var updates [][]string
	r.Subscribe(func(urls []string) {
		updates = append(updates, urls)
	})

	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx, 100))

	block101 := []types.Log{encodeLog(t, KindSetServerURL, 101, 0, stakerA, "http://x")}
	require.NoError(t, r.ProcessBlockLogs(ctx, block101, model.BlockHeader{Number: 101, Hash: common.HexToHash("0x101")}))
	assert.Empty(t, r.ServerURLs(nil, nil))
	assert.Len(t, updates, 1)

	state, ok := r.State()
	require.True(t, ok)
	assert.Equal(t, "http://x", state.StakerServerURLs[stakerA])

	block102 := []types.Log{encodeLog(t, KindAddProtocols, 102, 0, stakerA, protocolIDs(ProtocolRequestForQuoteERC20))}
	require.NoError(t, r.ProcessBlockLogs(ctx, block102, model.BlockHeader{Number: 102, Hash: common.HexToHash("0x102")}))
	assert.Equal(t, []string{"http://x"}, r.ServerURLs(nil, nil))
	require.Len(t, updates, 2)
	assert.Equal(t, []string{"http://x"}, updates[1])
}

func TestRegistryTokenFilter(t *testing.T) {
	source := &memorySource{logs: []types.Log{
		encodeLog(t, KindSetServerURL, 60, 0, stakerA, "https://a.example"),
		encodeLog(t, KindAddProtocols, 60, 1, stakerA, protocolIDs(ProtocolRequestForQuoteERC20)),
		encodeLog(t, KindAddTokens, 60, 2, stakerA, []common.Address{tokenUSDC, tokenWETH}),
		encodeLog(t, KindSetServerURL, 61, 0, stakerB, "https://b.example"),
		encodeLog(t, KindAddProtocols, 61, 1, stakerB, protocolIDs(ProtocolRequestForQuoteERC20)),
		encodeLog(t, KindAddTokens, 61, 2, stakerB, []common.Address{tokenUSDC}),
	}}
	r := newTestRegistry(t, source, nil)
	require.NoError(t, r.Initialize(context.Background(), 70))

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, r.ServerURLs(nil, nil))
	assert.Equal(t, []string{"https://a.example"}, r.ServerURLs(&tokenUSDC, &tokenWETH))
}

func TestRegistryOverrideWins(t *testing.T) {
	source := &memorySource{logs: []types.Log{
		encodeLog(t, KindSetServerURL, 60, 0, stakerA, "https://a.example"),
		encodeLog(t, KindAddProtocols, 60, 1, stakerA, protocolIDs(ProtocolRequestForQuoteERC20)),
	}}
	r := newTestRegistry(t, source, []string{"https://override.example"})

	var updates [][]string
	r.Subscribe(func(urls []string) { updates = append(updates, urls) })

	assert.Equal(t, []string{"https://override.example"}, r.ServerURLs(nil, nil))
	require.NoError(t, r.Initialize(context.Background(), 70))
	assert.Equal(t, []string{"https://override.example"}, r.ServerURLs(&tokenUSDC, nil))
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"https://override.example"}, updates[0])
}

func TestRegistryOverrideWithoutSource(t *testing.T) {
	_, err := New(Config{Address: registryAddress}, nil)
	require.Error(t, err)

	r, err := New(Config{Address: registryAddress, OverrideURLs: []string{"https://override.example"}}, nil)
	require.NoError(t, err)

	var updates [][]string
	r.Subscribe(func(urls []string) { updates = append(updates, urls) })

	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx, 100))
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"https://override.example"}, updates[0])

	require.NoError(t, r.ProcessBlockLogs(ctx, nil, model.BlockHeader{Number: 101}))
	assert.Equal(t, []string{"https://override.example"}, r.ServerURLs(&tokenUSDC, &tokenWETH))
	_, ok := r.LastBlock()
	assert.False(t, ok)
	assert.Equal(t, statesync.StatusUninitialized, r.Status())
}

func TestRegistryUninitialized(t *testing.T) {
	r := newTestRegistry(t, &memorySource{}, nil)
	assert.Nil(t, r.ServerURLs(nil, nil))
	_, ok := r.LastBlock()
	assert.False(t, ok)
	assert.ErrorIs(t, r.ProcessBlockLogs(context.Background(), nil, model.BlockHeader{Number: 1}), statesync.ErrNotInitialized)
}
