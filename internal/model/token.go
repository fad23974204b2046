package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeTokenAddress is the placeholder address used for the chain's native asset.
var NativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token identifies an ERC20 token.
type Token struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// IsNative reports whether the token is the native asset placeholder.
func (t Token) IsNative() bool {
	return t.Address == NativeTokenAddress
}

// SwapSide selects which side of a swap the amount refers to.
type SwapSide int

const (
	SideSell SwapSide = iota
	SideBuy
)

func (s SwapSide) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// ParseSwapSide parses "sell" or "buy".
func ParseSwapSide(input string) (SwapSide, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "sell":
		return SideSell, true
	case "buy":
		return SideBuy, true
	default:
		return SideSell, false
	}
}
