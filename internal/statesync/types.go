package statesync

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrNotInitialized     = errors.New("synchronizer is not initialized")
	ErrAlreadyInitialized = errors.New("synchronizer is already initialized")
	// ErrInconsistent is returned by reducers and validators when applying an
	// event would leave the snapshot in an invalid state.
	ErrInconsistent = errors.New("state is inconsistent")
	// ErrUnknownEvent is returned by decoders for logs matching no known signature.
	ErrUnknownEvent = errors.New("unknown event")
)

// Status is the lifecycle state of a Synchronizer.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusReady
	StatusRebuilding
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Event is a decoded log tagged with its kind.
type Event[K comparable] struct {
	Kind K
	Args any
	Log  types.Log
}

// Decoder maps a raw log to a typed event.
type Decoder[K comparable] interface {
	Decode(log types.Log) (Event[K], error)
}

// Reducer folds one event into a snapshot and returns the next snapshot.
// It must not mutate the snapshot it receives: snapshots are shared with
// concurrent readers, so changed containers are copied before writing.
type Reducer[S any, K comparable] func(event Event[K], state S) (S, error)

// Handlers is the dispatch table from event kind to reducer.
type Handlers[S any, K comparable] map[K]Reducer[S, K]

// LogSource returns the logs emitted by addresses in the inclusive block range.
type LogSource interface {
	GetLogs(ctx context.Context, addresses []common.Address, fromBlock, toBlock uint64) ([]types.Log, error)
}
