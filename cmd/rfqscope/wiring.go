package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"go.uber.org/zap"

	"rfqScope/internal/chain"
	"rfqScope/internal/config"
	"rfqScope/internal/maker"
	"rfqScope/internal/rfq"
	"rfqScope/internal/storage"
)

type chainDeps struct {
	client  *chain.Client
	source  *chain.LogSource
	chainID *big.Int
}

func connectChain(ctx context.Context, cfg config.Chain, logger *zap.Logger) (chainDeps, error) {
	if cfg.RPCURL == "" {
		return chainDeps{}, fmt.Errorf("rpc url is required")
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return chainDeps{}, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return chainDeps{}, fmt.Errorf("chain id: %w", err)
	}
	source := chain.NewLogSource(client, chain.LogSourceConfig{
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryBackoff,
	}, logger)
	return chainDeps{client: client, source: source, chainID: chainID}, nil
}

func decodeErrorSink(path string) storage.DecodeErrorSink {
	if path == "" {
		return nil
	}
	return storage.NewJsonlStorage(path)
}

func newMakerClient(cfg config.Pricing, logger *zap.Logger) *maker.Client {
	makerCfg := maker.DefaultConfig()
	if cfg.MakerTimeout > 0 {
		makerCfg.Timeout = cfg.MakerTimeout
	}
	if cfg.MakerRPS > 0 {
		makerCfg.RequestsPerSecond = cfg.MakerRPS
	}
	if cfg.MakerBurst > 0 {
		makerCfg.Burst = cfg.MakerBurst
	}
	return maker.NewClient(&http.Client{}, makerCfg, logger)
}

func adapterConfig(chainCfg config.Chain, pricingCfg config.Pricing, chainID *big.Int, slave bool) (rfq.Config, error) {
	registryAddress, err := chain.ParseAddress(chainCfg.RegistryAddress)
	if err != nil {
		return rfq.Config{}, fmt.Errorf("registry address: %w", err)
	}
	swapContract, err := chain.ParseAddress(pricingCfg.SwapContract)
	if err != nil {
		return rfq.Config{}, fmt.Errorf("swap contract: %w", err)
	}
	wrappedNative, err := chain.ParseAddress(pricingCfg.WrappedNative)
	if err != nil {
		return rfq.Config{}, fmt.Errorf("wrapped native: %w", err)
	}
	cfg := rfq.Config{
		DexKey:             pricingCfg.DexKey,
		ChainID:            chainID.Uint64(),
		RegistryAddress:    registryAddress,
		RegistryBlock:      chainCfg.RegistryBlock,
		SwapContract:       swapContract,
		WrappedNative:      wrappedNative,
		OverrideServerURLs: chainCfg.ServerURLs,
		PollInterval:       pricingCfg.PollInterval,
		CacheTTL:           pricingCfg.CacheTTL,
		GasCost:            pricingCfg.GasCost,
		Slave:              slave,
	}
	if pricingCfg.SenderWallet != "" {
		cfg.SenderWallet, err = chain.ParseAddress(pricingCfg.SenderWallet)
		if err != nil {
			return rfq.Config{}, fmt.Errorf("sender wallet: %w", err)
		}
	}
	return cfg, nil
}

func resolveBlock(ctx context.Context, client *chain.Client, block uint64) (uint64, error) {
	if block != 0 {
		return block, nil
	}
	latest, err := client.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return latest, nil
}
