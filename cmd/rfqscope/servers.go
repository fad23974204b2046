package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rfqScope/internal/chain"
	"rfqScope/internal/config"
	"rfqScope/internal/registry"
)

type serverLine struct {
	URL   string `json:"url"`
	Block uint64 `json:"block"`
}

func runServers(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServers(cfgFile, cmd.Flags())
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

	registryAddress, err := chain.ParseAddress(cfg.RegistryAddress)
	if err != nil {
		return err
	}
	tokenA, err := optionalAddress(cfg.TokenA)
	if err != nil {
		return err
	}
	tokenB, err := optionalAddress(cfg.TokenB)
	if err != nil {
		return err
	}

	deps, err := connectChain(ctx, cfg.Chain, logger)
	if err != nil {
		return err
	}
	defer deps.client.Close()

	reg, err := registry.New(registry.Config{
		Address:         registryAddress,
		DeploymentBlock: cfg.RegistryBlock,
		Source:          deps.source,
		OverrideURLs:    cfg.ServerURLs,
		DecodeErrors:    decodeErrorSink(cfg.DecodeErrors),
	}, logger)
	if err != nil {
		return err
	}

	block, err := resolveBlock(ctx, deps.client, cfg.Block)
	if err != nil {
		return err
	}
	if len(cfg.ServerURLs) == 0 {
		if err := reg.Initialize(ctx, block); err != nil {
			return err
		}
	}

	urls := reg.ServerURLs(tokenA, tokenB)
	logger.Info("servers resolved", zap.Uint64("block_number", block), zap.Int("count", len(urls)))

	encoder := json.NewEncoder(cmd.OutOrStdout())
	for _, url := range urls {
		if err := encoder.Encode(serverLine{URL: url, Block: block}); err != nil {
			return err
		}
	}
	return nil
}

func optionalAddress(input string) (*common.Address, error) {
	if input == "" {
		return nil, nil
	}
	address, err := chain.ParseAddress(input)
	if err != nil {
		return nil, err
	}
	return &address, nil
}
