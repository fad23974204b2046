package registry

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	registryAddress = common.HexToAddress("0x8F9DA6d38939411340b19401E8c54Ea1f51B8f95")
	stakerA         = common.HexToAddress("0x000000000000000000000000000000000000000a")
	stakerB         = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokenUSDC       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tokenWETH       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	otherProtocol   = ProtocolID{0x01, 0x02, 0x03, 0x04}
)

func encodeLog(t *testing.T, kind Kind, block uint64, index uint, staker common.Address, values ...interface{}) types.Log {
	t.Helper()
	registryABI, err := ABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	event := registryABI.Events[kind.String()]
	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", kind, err)
	}
	return types.Log{
		Address:     registryAddress,
		Topics:      []common.Hash{event.ID, common.BytesToHash(staker.Bytes())},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		BlockHash:   common.BigToHash(common.Big2),
	}
}

func protocolIDs(ids ...ProtocolID) [][4]byte {
	out := make([][4]byte, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

type memorySource struct {
	logs  []types.Log
	err   error
	calls int
}

func (m *memorySource) GetLogs(_ context.Context, _ []common.Address, from, to uint64) ([]types.Log, error) {
	m.calls++
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
