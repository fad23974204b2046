package statesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rfqScope/internal/metrics"
	"rfqScope/internal/model"
	"rfqScope/internal/storage"
)

// Config describes one subscription: which logs to follow and how to fold them.
type Config[S any, K comparable] struct {
	Name            string
	Addresses       []common.Address
	DeploymentBlock uint64

	Empty    func() S
	Handlers Handlers[S, K]
	Decoder  Decoder[K]
	Source   LogSource

	// Validate, if set, rejects snapshots produced by a fold.
	Validate func(S) error
	// ViewEqual, if set, suppresses subscriber notifications when the derived
	// view of the snapshot did not change.
	ViewEqual func(prev, next S) bool

	DecodeErrors storage.DecodeErrorSink
	Metrics      *metrics.Metrics
}

type snapshot[S any] struct {
	state S
	block uint64
}

// Synchronizer keeps a snapshot of contract state current from block logs.
type Synchronizer[S any, K comparable] struct {
	cfg    Config[S, K]
	logger *zap.Logger

	// mu serializes Initialize and ProcessBlockLogs.
	mu sync.Mutex
	// stale is set when a rebuild failed and the live snapshot may not match
	// the canonical chain; the next block forces a rebuild.
	stale bool

	status  atomic.Int32
	current atomic.Pointer[snapshot[S]]

	subMu      sync.Mutex
	subscriber func(S)
}

// New validates cfg and builds an uninitialized Synchronizer.
func New[S any, K comparable](cfg Config[S, K], logger *zap.Logger) (*Synchronizer[S, K], error) {
	if cfg.Empty == nil {
		return nil, fmt.Errorf("empty state constructor is required")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("log source is required")
	}
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("at least one handler is required")
	}
	if cfg.Name == "" {
		cfg.Name = "subscription"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Synchronizer[S, K]{
		cfg:    cfg,
		logger: logger.With(zap.String("subscription", cfg.Name)),
	}, nil
}

type initializeOptions struct {
	forceRegenerate bool
}

// InitializeOption tunes Initialize.
type InitializeOption func(*initializeOptions)

// WithForceRegenerate allows Initialize on an already initialized synchronizer,
// replacing its snapshot with a fresh full scan.
func WithForceRegenerate() InitializeOption {
	return func(o *initializeOptions) {
		o.forceRegenerate = true
	}
}

// Name returns the subscription name.
func (s *Synchronizer[S, K]) Name() string {
	return s.cfg.Name
}

// Status returns the current lifecycle state.
func (s *Synchronizer[S, K]) Status() Status {
	return Status(s.status.Load())
}

// Snapshot returns the live snapshot and the block it reflects. The bool is
// false until the first successful Initialize.
func (s *Synchronizer[S, K]) Snapshot() (S, uint64, bool) {
	cur := s.current.Load()
	if cur == nil {
		var zero S
		return zero, 0, false
	}
	return cur.state, cur.block, true
}

// Subscribe registers the single update callback, replacing any previous one.
// The callback runs synchronously inside Initialize/ProcessBlockLogs and must
// not call back into them.
func (s *Synchronizer[S, K]) Subscribe(callback func(S)) {
	s.subMu.Lock()
	s.subscriber = callback
	s.subMu.Unlock()
}

// Initialize builds the snapshot with a full scan up to blockNumber.
func (s *Synchronizer[S, K]) Initialize(ctx context.Context, blockNumber uint64, opts ...InitializeOption) error {
	var o initializeOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.Status()
	if prev != StatusUninitialized && !o.forceRegenerate {
		return ErrAlreadyInitialized
	}

	if prev == StatusUninitialized {
		s.setStatus(StatusInitializing)
	} else {
		s.setStatus(StatusRebuilding)
	}

	state, err := s.GenerateState(ctx, blockNumber)
	if err != nil {
		s.setStatus(prev)
		return fmt.Errorf("initialize %s at block %d: %w", s.cfg.Name, blockNumber, err)
	}

	s.stale = false
	s.publish(state, blockNumber)
	s.cfg.Metrics.Rebuild(s.cfg.Name, metrics.RebuildInitialize, blockNumber)
	s.logger.Info("state initialized", zap.Uint64("block_number", blockNumber))
	return nil
}

// ProcessBlockLogs applies the logs of one block. A block at or below the
// applied height is treated as a reorg and answered with a full rebuild, as is
// any fold that cannot produce a trustworthy snapshot.
func (s *Synchronizer[S, K]) ProcessBlockLogs(ctx context.Context, logs []types.Log, header model.BlockHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur == nil || s.Status() != StatusReady {
		return ErrNotInitialized
	}

	if s.stale {
		s.logger.Warn("previous rebuild failed, rebuilding", zap.Uint64("block_number", header.Number))
		return s.rebuild(ctx, header.Number, metrics.RebuildRecover)
	}

	if header.Number <= cur.block {
		s.logger.Warn("reorg detected",
			zap.Uint64("block_number", header.Number),
			zap.Uint64("last_block", cur.block),
			zap.String("block_hash", header.Hash.Hex()),
		)
		return s.rebuild(ctx, header.Number, metrics.RebuildReorg)
	}

	next, outcome := s.fold(cur.state, logs, header)
	switch outcome {
	case foldNoHandler:
		s.logger.Warn("no handler matched decoded logs, rebuilding", zap.Uint64("block_number", header.Number))
		return s.rebuild(ctx, header.Number, metrics.RebuildNoHandler)
	case foldInconsistent:
		s.logger.Warn("inconsistent state after fold, rebuilding", zap.Uint64("block_number", header.Number))
		return s.rebuild(ctx, header.Number, metrics.RebuildInconsistent)
	}

	s.publish(next, header.Number)
	s.cfg.Metrics.BlockProcessed(s.cfg.Name, header.Number)
	return nil
}

// GenerateState folds every log from the deployment block through blockNumber
// into a fresh snapshot. It does not touch the live snapshot.
func (s *Synchronizer[S, K]) GenerateState(ctx context.Context, blockNumber uint64) (S, error) {
	state := s.cfg.Empty()
	if blockNumber < s.cfg.DeploymentBlock {
		return state, nil
	}

	logs, err := s.cfg.Source.GetLogs(ctx, s.cfg.Addresses, s.cfg.DeploymentBlock, blockNumber)
	if err != nil {
		return state, fmt.Errorf("get logs: %w", err)
	}

	ordered := make([]types.Log, len(logs))
	copy(ordered, logs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber < ordered[j].BlockNumber
		}
		return ordered[i].Index < ordered[j].Index
	})

	for _, lg := range ordered {
		if lg.Removed {
			continue
		}
		event, err := s.cfg.Decoder.Decode(lg)
		if err != nil {
			s.decodeFailed(lg, err)
			continue
		}
		reducer, ok := s.cfg.Handlers[event.Kind]
		if !ok {
			continue
		}
		next, err := reducer(event, state)
		if err != nil {
			s.logger.Warn("reducer rejected event during full scan",
				zap.Error(err),
				zap.Uint64("block_number", lg.BlockNumber),
				zap.Uint("log_index", lg.Index),
			)
			continue
		}
		state = next
	}

	if s.cfg.Validate != nil {
		if err := s.cfg.Validate(state); err != nil {
			return state, fmt.Errorf("validate rebuilt state: %w", errors.Join(ErrInconsistent, err))
		}
	}
	return state, nil
}

type foldOutcome int

const (
	foldOK foldOutcome = iota
	foldNoHandler
	foldInconsistent
)

func (s *Synchronizer[S, K]) fold(state S, logs []types.Log, header model.BlockHeader) (S, foldOutcome) {
	ordered := make([]types.Log, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		if lg.BlockNumber != 0 && lg.BlockNumber != header.Number {
			s.logger.Debug("skip log from another block",
				zap.Uint64("log_block", lg.BlockNumber),
				zap.Uint64("block_number", header.Number),
			)
			continue
		}
		ordered = append(ordered, lg)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	var decoded, matched int
	for _, lg := range ordered {
		event, err := s.cfg.Decoder.Decode(lg)
		if err != nil {
			s.decodeFailed(lg, err)
			continue
		}
		decoded++

		reducer, ok := s.cfg.Handlers[event.Kind]
		if !ok {
			continue
		}
		matched++

		next, err := reducer(event, state)
		if err != nil {
			s.logger.Warn("reducer rejected event",
				zap.Error(err),
				zap.Uint64("block_number", header.Number),
				zap.Uint("log_index", lg.Index),
			)
			return state, foldInconsistent
		}
		state = next
	}

	if decoded > 0 && matched == 0 {
		return state, foldNoHandler
	}
	if s.cfg.Validate != nil {
		if err := s.cfg.Validate(state); err != nil {
			s.logger.Warn("validate failed", zap.Error(err), zap.Uint64("block_number", header.Number))
			return state, foldInconsistent
		}
	}
	return state, foldOK
}

func (s *Synchronizer[S, K]) rebuild(ctx context.Context, blockNumber uint64, reason string) error {
	s.setStatus(StatusRebuilding)
	state, err := s.GenerateState(ctx, blockNumber)
	if err != nil {
		s.stale = true
		s.setStatus(StatusReady)
		return fmt.Errorf("rebuild %s at block %d: %w", s.cfg.Name, blockNumber, err)
	}

	s.stale = false
	s.publish(state, blockNumber)
	s.cfg.Metrics.Rebuild(s.cfg.Name, reason, blockNumber)
	s.logger.Info("state rebuilt", zap.String("reason", reason), zap.Uint64("block_number", blockNumber))
	return nil
}

// publish swaps in the new snapshot and notifies the subscriber when the
// first snapshot lands or the view differs from the previous one.
func (s *Synchronizer[S, K]) publish(state S, blockNumber uint64) {
	prev := s.current.Swap(&snapshot[S]{state: state, block: blockNumber})
	s.setStatus(StatusReady)

	changed := prev == nil || s.cfg.ViewEqual == nil || !s.cfg.ViewEqual(prev.state, state)
	if !changed {
		return
	}

	s.subMu.Lock()
	callback := s.subscriber
	s.subMu.Unlock()
	if callback != nil {
		callback(state)
	}
}

func (s *Synchronizer[S, K]) setStatus(status Status) {
	s.status.Store(int32(status))
}

func (s *Synchronizer[S, K]) decodeFailed(lg types.Log, err error) {
	s.cfg.Metrics.DecodeError(s.cfg.Name)
	s.logger.Warn("skip undecodable log",
		zap.Error(err),
		zap.Uint64("block_number", lg.BlockNumber),
		zap.Uint("log_index", lg.Index),
		zap.String("tx_hash", lg.TxHash.Hex()),
	)

	if s.cfg.DecodeErrors == nil {
		return
	}
	topic0 := ""
	if len(lg.Topics) > 0 {
		topic0 = lg.Topics[0].Hex()
	}
	record := model.DecodeError{
		Subscription: s.cfg.Name,
		BlockNumber:  lg.BlockNumber,
		BlockHash:    lg.BlockHash.Hex(),
		TxHash:       lg.TxHash.Hex(),
		LogIndex:     uint64(lg.Index),
		Address:      lg.Address.Hex(),
		Topic0:       topic0,
		Error:        err.Error(),
	}
	if err := s.cfg.DecodeErrors.PutDecodeErrors([]model.DecodeError{record}); err != nil {
		s.logger.Warn("write decode error", zap.Error(err))
	}
}
