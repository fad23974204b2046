package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rfqScope/internal/cache"
	"rfqScope/internal/chain"
	"rfqScope/internal/config"
	"rfqScope/internal/metrics"
	"rfqScope/internal/model"
	"rfqScope/internal/rfq"
	"rfqScope/internal/storage"
	"rfqScope/internal/storage/postgres"
)

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRun(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connectChain(ctx, cfg.Chain, logger)
	if err != nil {
		return err
	}
	defer deps.client.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	var (
		store      cache.Store
		checkpoint storage.SyncStateStore
		purge      func(context.Context) (int64, error)
		sink       = decodeErrorSink(cfg.DecodeErrors)
	)
	switch cfg.CacheBackend {
	case "postgres":
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store, checkpoint, purge = pg, pg, pg.Purge
		if sink == nil {
			sink = pg
		}
	default:
		memory := cache.NewMemoryStore()
		store = memory
		checkpoint = storage.NewCheckpointStore(cfg.Checkpoint)
		purge = func(context.Context) (int64, error) { return int64(memory.Purge()), nil }
	}

	adapterCfg, err := adapterConfig(cfg.Chain, cfg.Pricing, deps.chainID, cfg.Slave)
	if err != nil {
		return err
	}
	adapter, err := rfq.New(adapterCfg, rfq.Deps{
		Source:       deps.source,
		Makers:       newMakerClient(cfg.Pricing, logger),
		Store:        store,
		DecodeErrors: sink,
		Metrics:      m,
	}, logger)
	if err != nil {
		return err
	}

	latest, err := deps.client.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	checkpointName := adapterCfg.DexKey + "-registry"
	compareCheckpoint(ctx, deps.client, checkpoint, checkpointName, logger)

	logger.Info("rfqscope start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", adapterCfg.ChainID),
		zap.String("registry", adapterCfg.RegistryAddress.Hex()),
		zap.Uint64("block_number", latest),
		zap.Int("override_urls", len(adapterCfg.OverrideServerURLs)),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Bool("slave", cfg.Slave),
	)

	if err := adapter.InitializePricing(ctx, latest); err != nil {
		return err
	}
	defer func() {
		adapter.ReleaseResources()
		adapter.Wait()
	}()

	var wg conc.WaitGroup
	if cfg.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Go(func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		})
		wg.Go(func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	wg.Go(func() {
		purgeExpired(ctx, purge, adapterCfg.CacheTTL, logger)
	})

	if len(adapterCfg.OverrideServerURLs) == 0 {
		handler := func(ctx context.Context, logs []types.Log, header model.BlockHeader) error {
			if err := adapter.HandleBlock(ctx, logs, header); err != nil {
				return err
			}
			return checkpoint.SaveSyncState(ctx, model.SyncState{
				Name:      checkpointName,
				LastBlock: header.Number,
				BlockHash: header.Hash.Hex(),
				UpdatedAt: time.Now().UTC(),
			})
		}
		follower := chain.NewFollower(deps.client, chain.FollowerConfig{
			Addresses:    []common.Address{adapterCfg.RegistryAddress},
			PollInterval: cfg.FollowInterval,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryBackoff,
		}, handler, logger)
		if err := follower.Start(ctx, latest); err != nil {
			return err
		}
		wg.Go(func() {
			if err := follower.Run(ctx); err != nil {
				logger.Error("follower stopped", zap.Error(err))
			}
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// compareCheckpoint reports whether the last synced block is still canonical.
func compareCheckpoint(ctx context.Context, client *chain.Client, store storage.SyncStateStore, name string, logger *zap.Logger) {
	state, ok, err := store.LoadSyncState(ctx, name)
	if err != nil {
		logger.Warn("load checkpoint failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(state.LastBlock))
	if err != nil {
		logger.Warn("checkpoint header lookup failed", zap.Uint64("block_number", state.LastBlock), zap.Error(err))
		return
	}
	if header.Hash().Hex() != state.BlockHash {
		logger.Warn("checkpoint block is no longer canonical",
			zap.Uint64("block_number", state.LastBlock),
			zap.String("checkpoint_hash", state.BlockHash),
			zap.String("canonical_hash", header.Hash().Hex()),
		)
		return
	}
	logger.Info("resuming after checkpoint", zap.Uint64("block_number", state.LastBlock), zap.Time("updated_at", state.UpdatedAt))
}

func purgeExpired(ctx context.Context, purge func(context.Context) (int64, error), ttl time.Duration, logger *zap.Logger) {
	if ttl <= 0 {
		ttl = rfq.DefaultCacheTTL
	}
	ticker := time.NewTicker(10 * ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := purge(ctx)
			if err != nil {
				logger.Warn("cache purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("cache purged", zap.Int64("removed", removed))
			}
		}
	}
}
