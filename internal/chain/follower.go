package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rfqScope/internal/model"
)

// BlockHandler receives the logs of one block.
type BlockHandler func(ctx context.Context, logs []types.Log, header model.BlockHeader) error

// FollowerConfig tunes head following.
type FollowerConfig struct {
	Addresses    []common.Address
	PollInterval time.Duration
	// MaxBlocksPerPoll bounds catch-up work per poll; zero means unbounded.
	MaxBlocksPerPoll uint64
	MaxRetries       int
	RetryDelay       time.Duration
}

// Follower polls the chain head and hands each new block to a handler.
// When the block at the last delivered height changes hash, that height is
// delivered again so the handler can treat it as a reorg.
type Follower struct {
	backend Backend
	cfg     FollowerConfig
	handler BlockHandler
	retry   retryPolicy
	logger  *zap.Logger

	last    model.BlockHeader
	started bool
}

// NewFollower builds a Follower.
func NewFollower(backend Backend, cfg FollowerConfig, handler BlockHandler, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Follower{
		backend: backend,
		cfg:     cfg,
		handler: handler,
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.RetryDelay, logger),
		logger:  logger,
	}
}

// Last returns the last delivered header.
func (f *Follower) Last() model.BlockHeader {
	return f.last
}

// Start anchors the follower at blockNumber, which the caller has already
// processed.
func (f *Follower) Start(ctx context.Context, blockNumber uint64) error {
	header, err := f.header(ctx, blockNumber)
	if err != nil {
		return fmt.Errorf("anchor header %d: %w", blockNumber, err)
	}
	f.last = header
	f.started = true
	return nil
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next interval.
func (f *Follower) Run(ctx context.Context) error {
	if !f.started {
		return fmt.Errorf("follower not started")
	}
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := f.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("follow poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll delivers every block after the last delivered one up to the head.
func (f *Follower) Poll(ctx context.Context) error {
	if !f.started {
		return fmt.Errorf("follower not started")
	}

	var latest uint64
	err := f.retry.do(ctx, "block_number", func(ctx context.Context) error {
		var err error
		latest, err = f.backend.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	if latest < f.last.Number {
		f.logger.Warn("chain head moved backwards",
			zap.Uint64("block_number", latest),
			zap.Uint64("last_block", f.last.Number),
		)
		return f.deliver(ctx, latest)
	}

	current, err := f.header(ctx, f.last.Number)
	if err != nil {
		return err
	}
	if current.Hash != f.last.Hash {
		f.logger.Warn("block hash changed",
			zap.Uint64("block_number", current.Number),
			zap.String("old_hash", f.last.Hash.Hex()),
			zap.String("new_hash", current.Hash.Hex()),
		)
		if err := f.deliver(ctx, current.Number); err != nil {
			return err
		}
	}

	target := latest
	if f.cfg.MaxBlocksPerPoll > 0 && target-f.last.Number > f.cfg.MaxBlocksPerPoll {
		target = f.last.Number + f.cfg.MaxBlocksPerPoll
	}
	for number := f.last.Number + 1; number <= target; number++ {
		if err := f.deliver(ctx, number); err != nil {
			return err
		}
	}
	return nil
}

func (f *Follower) deliver(ctx context.Context, number uint64) error {
	header, err := f.header(ctx, number)
	if err != nil {
		return err
	}

	var logs []types.Log
	err = f.retry.do(ctx, "block_logs", func(ctx context.Context) error {
		var err error
		logs, err = f.backend.BlockLogs(ctx, header.Hash, f.cfg.Addresses)
		return err
	})
	if err != nil {
		return fmt.Errorf("block logs %d: %w", number, err)
	}

	// The handler owns recovery; a failed block is still the latest seen.
	if err := f.handler(ctx, logs, header); err != nil {
		f.logger.Warn("block handler failed", zap.Uint64("block_number", number), zap.Error(err))
	}
	f.last = header
	return nil
}

func (f *Follower) header(ctx context.Context, number uint64) (model.BlockHeader, error) {
	var header *types.Header
	err := f.retry.do(ctx, "header_by_number", func(ctx context.Context) error {
		var err error
		header, err = f.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return model.BlockHeader{}, fmt.Errorf("header %d: %w", number, err)
	}
	if header == nil {
		return model.BlockHeader{}, fmt.Errorf("header %d not found", number)
	}
	return model.HeaderFromEth(header), nil
}
