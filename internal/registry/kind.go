package registry

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// Kind enumerates the registry events the synchronizer folds.
type Kind uint8

const (
	KindSetServerURL Kind = iota + 1
	KindAddProtocols
	KindRemoveProtocols
	KindAddTokens
	KindRemoveTokens
	KindUnsetServer
)

var kindNames = map[Kind]string{
	KindSetServerURL:    "SetServerURL",
	KindAddProtocols:    "AddProtocols",
	KindRemoveProtocols: "RemoveProtocols",
	KindAddTokens:       "AddTokens",
	KindRemoveTokens:    "RemoveTokens",
	KindUnsetServer:     "UnsetServer",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ProtocolID is the 4-byte interface id a staker advertises.
type ProtocolID [4]byte

// ProtocolRequestForQuoteERC20 is the interface id of RFQ ERC20 makers.
var ProtocolRequestForQuoteERC20 = ProtocolID{0x02, 0xad, 0x05, 0xd3}

func (p ProtocolID) Hex() string {
	return "0x" + hex.EncodeToString(p[:])
}

func (p ProtocolID) String() string {
	return p.Hex()
}

// SetServerURLArgs is the payload of SetServerURL.
type SetServerURLArgs struct {
	Staker common.Address
	URL    string
}

// ProtocolsArgs is the payload of AddProtocols and RemoveProtocols.
type ProtocolsArgs struct {
	Staker    common.Address
	Protocols []ProtocolID
}

// TokensArgs is the payload of AddTokens and RemoveTokens.
type TokensArgs struct {
	Staker common.Address
	Tokens []common.Address
}

// UnsetServerArgs is the payload of UnsetServer.
type UnsetServerArgs struct {
	Staker    common.Address
	URL       string
	Protocols []ProtocolID
	Tokens    []common.Address
}
