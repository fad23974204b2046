package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockHeader is the part of a block header the synchronizers care about.
type BlockHeader struct {
	Number uint64      `json:"number"`
	Hash   common.Hash `json:"hash"`
}

// HeaderFromEth converts a go-ethereum header.
func HeaderFromEth(h *types.Header) BlockHeader {
	if h == nil || h.Number == nil {
		return BlockHeader{}
	}
	return BlockHeader{Number: h.Number.Uint64(), Hash: h.Hash()}
}
