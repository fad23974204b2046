package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// DefaultBatchSize is the widest eth_getLogs range requested at once.
const DefaultBatchSize uint64 = 5000

// LogSourceConfig tunes historical log fetching.
type LogSourceConfig struct {
	BatchSize  uint64
	MaxRetries int
	RetryDelay time.Duration
}

// LogSource fetches historical logs in batches, retrying each batch.
type LogSource struct {
	backend Backend
	cfg     LogSourceConfig
	retry   retryPolicy
	logger  *zap.Logger
}

// blockRange is an inclusive block range.
type blockRange struct {
	from uint64
	to   uint64
}

// NewLogSource builds a LogSource.
func NewLogSource(backend Backend, cfg LogSourceConfig, logger *zap.Logger) *LogSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &LogSource{
		backend: backend,
		cfg:     cfg,
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.RetryDelay, logger),
		logger:  logger,
	}
}

// GetLogs returns the logs emitted by addresses in the inclusive range,
// ordered as the node returns them per batch.
func (s *LogSource) GetLogs(ctx context.Context, addresses []common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("to block %d is before from block %d", toBlock, fromBlock)
	}

	var out []types.Log
	for _, r := range s.batches(fromBlock, toBlock) {
		var logs []types.Log
		err := s.retry.do(ctx, "filter_logs", func(ctx context.Context) error {
			var err error
			logs, err = s.backend.FilterLogs(ctx, r.from, r.to, addresses)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", r.from, r.to, err)
		}
		out = append(out, logs...)
	}

	s.logger.Debug("logs fetched",
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", toBlock),
		zap.Int("logs", len(out)),
	)
	return out, nil
}

// batches splits [from, to] into ranges of at most BatchSize blocks. The
// caller guarantees from <= to.
func (s *LogSource) batches(from, to uint64) []blockRange {
	size := s.cfg.BatchSize
	ranges := make([]blockRange, 0, (to-from)/size+1)
	for start := from; ; start += size {
		if to-start < size {
			return append(ranges, blockRange{from: start, to: to})
		}
		ranges = append(ranges, blockRange{from: start, to: start + size - 1})
	}
}
