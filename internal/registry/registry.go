package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rfqScope/internal/metrics"
	"rfqScope/internal/model"
	"rfqScope/internal/statesync"
	"rfqScope/internal/storage"
)

// Config configures a Registry.
type Config struct {
	Name            string
	Address         common.Address
	DeploymentBlock uint64
	Source          statesync.LogSource
	// OverrideURLs, when non-empty, replaces discovered servers.
	OverrideURLs []string
	DecodeErrors storage.DecodeErrorSink
	Metrics      *metrics.Metrics
}

// Registry follows the maker registry contract and exposes the discovered
// RFQ server URLs. A registry built with override URLs and no log source
// never scans the chain.
type Registry struct {
	sync       *statesync.Synchronizer[State, Kind]
	override   []string
	subscriber func(urls []string)
	logger     *zap.Logger
}

// New builds a Registry.
func New(cfg Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "registry"
	}
	if cfg.Source == nil && len(cfg.OverrideURLs) > 0 {
		logger.Info("registry scan disabled by override", zap.String("name", name), zap.Int("urls", len(cfg.OverrideURLs)))
		return &Registry{override: slices.Clone(cfg.OverrideURLs), logger: logger}, nil
	}

	synchronizer, err := statesync.New(statesync.Config[State, Kind]{
		Name:            name,
		Addresses:       []common.Address{cfg.Address},
		DeploymentBlock: cfg.DeploymentBlock,
		Empty:           EmptyState,
		Handlers:        Handlers(),
		Decoder:         decoder,
		Source:          cfg.Source,
		Validate:        Validate,
		ViewEqual: func(prev, next State) bool {
			return slices.Equal(
				prev.ServerURLs(ProtocolRequestForQuoteERC20, nil, nil),
				next.ServerURLs(ProtocolRequestForQuoteERC20, nil, nil),
			)
		},
		DecodeErrors: cfg.DecodeErrors,
		Metrics:      cfg.Metrics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("new registry synchronizer: %w", err)
	}

	return &Registry{
		sync:     synchronizer,
		override: slices.Clone(cfg.OverrideURLs),
		logger:   logger,
	}, nil
}

// Initialize scans the registry up to blockNumber. Without a log source it
// only announces the override list.
func (r *Registry) Initialize(ctx context.Context, blockNumber uint64, opts ...statesync.InitializeOption) error {
	if r.sync == nil {
		if r.subscriber != nil {
			r.subscriber(slices.Clone(r.override))
		}
		return nil
	}
	return r.sync.Initialize(ctx, blockNumber, opts...)
}

func (r *Registry) ProcessBlockLogs(ctx context.Context, logs []types.Log, header model.BlockHeader) error {
	if r.sync == nil {
		return nil
	}
	return r.sync.ProcessBlockLogs(ctx, logs, header)
}

func (r *Registry) Status() statesync.Status {
	if r.sync == nil {
		return statesync.StatusUninitialized
	}
	return r.sync.Status()
}

// LastBlock returns the block the live snapshot reflects.
func (r *Registry) LastBlock() (uint64, bool) {
	if r.sync == nil {
		return 0, false
	}
	_, block, ok := r.sync.Snapshot()
	return block, ok
}

// State returns the live snapshot. Callers must not modify it.
func (r *Registry) State() (State, bool) {
	if r.sync == nil {
		return State{}, false
	}
	state, _, ok := r.sync.Snapshot()
	return state, ok
}

// ServerURLs returns the RFQ server URLs, filtered by token support when
// tokens are given. A configured override list always wins.
func (r *Registry) ServerURLs(tokenOne, tokenTwo *common.Address) []string {
	if len(r.override) > 0 {
		return slices.Clone(r.override)
	}
	state, ok := r.State()
	if !ok {
		return nil
	}
	return state.ServerURLs(ProtocolRequestForQuoteERC20, tokenOne, tokenTwo)
}

// Subscribe registers callback to receive the URL list whenever it changes.
func (r *Registry) Subscribe(callback func(urls []string)) {
	if r.sync == nil {
		r.subscriber = callback
		return
	}
	r.sync.Subscribe(func(state State) {
		if len(r.override) > 0 {
			callback(slices.Clone(r.override))
			return
		}
		callback(state.ServerURLs(ProtocolRequestForQuoteERC20, nil, nil))
	})
}
