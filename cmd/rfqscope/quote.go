package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rfqScope/internal/cache"
	"rfqScope/internal/chain"
	"rfqScope/internal/config"
	"rfqScope/internal/model"
	"rfqScope/internal/rfq"
)

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	side, ok := model.ParseSwapSide(cfg.Side)
	if !ok {
		return fmt.Errorf("invalid side %q", cfg.Side)
	}
	src, err := chain.ParseAddress(cfg.Src)
	if err != nil {
		return fmt.Errorf("src: %w", err)
	}
	dst, err := chain.ParseAddress(cfg.Dst)
	if err != nil {
		return fmt.Errorf("dst: %w", err)
	}
	amounts := make([]*big.Int, 0, len(cfg.Amounts))
	for _, raw := range cfg.Amounts {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("invalid amount %q", raw)
		}
		amounts = append(amounts, amount)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connectChain(ctx, cfg.Chain, logger)
	if err != nil {
		return err
	}
	defer deps.client.Close()

	// One-shot quotes never poll; every maker is fetched through the cache miss path.
	adapterCfg, err := adapterConfig(cfg.Chain, cfg.Pricing, deps.chainID, true)
	if err != nil {
		return err
	}
	adapter, err := rfq.New(adapterCfg, rfq.Deps{
		Source:       deps.source,
		Makers:       newMakerClient(cfg.Pricing, logger),
		Store:        cache.NewMemoryStore(),
		DecodeErrors: decodeErrorSink(cfg.DecodeErrors),
	}, logger)
	if err != nil {
		return err
	}
	defer adapter.ReleaseResources()

	block, err := resolveBlock(ctx, deps.client, cfg.Block)
	if err != nil {
		return err
	}
	if err := adapter.InitializePricing(ctx, block); err != nil {
		return err
	}

	prices := adapter.PricesVolume(ctx, model.Token{Address: src}, model.Token{Address: dst}, amounts, side, nil)
	logger.Info("quote done",
		zap.Uint64("block_number", block),
		zap.String("side", side.String()),
		zap.Int("pools", len(prices)),
	)

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(prices)
}
