package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "rfqscope",
		Short:        "RFQ maker discovery and pricing",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Follow the registry, poll makers and keep pricing cached",
		RunE:  runService,
	}
	addChainFlags(runCmd.Flags())
	addPricingFlags(runCmd.Flags())
	runCmd.Flags().String("cache-backend", "memory", "pricing cache backend (memory, postgres)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for the postgres cache backend")
	runCmd.Flags().String("metrics-addr", ":9102", "prometheus listen address, empty disables")
	runCmd.Flags().Duration("follow-interval", 2*time.Second, "chain head polling interval")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "sync checkpoint file path")
	runCmd.Flags().Bool("slave", false, "read pricing from the shared cache without polling makers")
	root.AddCommand(runCmd)

	serversCmd := &cobra.Command{
		Use:   "servers",
		Short: "Print the RFQ server URLs registered at a block",
		RunE:  runServers,
	}
	addChainFlags(serversCmd.Flags())
	serversCmd.Flags().Uint64("block", 0, "block to synchronize to, 0 means latest")
	serversCmd.Flags().String("token-a", "", "only servers supporting this token")
	serversCmd.Flags().String("token-b", "", "only servers supporting this token")
	root.AddCommand(serversCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a token pair against every maker quoting it",
		RunE:  runQuote,
	}
	addChainFlags(quoteCmd.Flags())
	addPricingFlags(quoteCmd.Flags())
	quoteCmd.Flags().Uint64("block", 0, "block to synchronize to, 0 means latest")
	quoteCmd.Flags().String("src", "", "source token address")
	quoteCmd.Flags().String("dst", "", "destination token address")
	quoteCmd.Flags().String("side", "sell", "swap side (sell, buy)")
	quoteCmd.Flags().StringSlice("amounts", nil, "amounts in base units (comma-separated)")
	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "Ethereum RPC URL")
	flags.String("registry-address", "", "maker registry contract address")
	flags.Uint64("registry-block", 0, "maker registry deployment block")
	flags.Uint64("batch-size", 5000, "blocks per log request")
	flags.Int("max-retries", 5, "maximum retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.StringSlice("server-urls", nil, "maker URLs that replace registry discovery (comma-separated)")
	flags.String("decode-errors", "", "decode errors JSONL path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addPricingFlags(flags *pflag.FlagSet) {
	flags.String("dex-key", "AirSwap", "exchange key used in pool identifiers")
	flags.String("swap-contract", "", "swap contract address")
	flags.String("wrapped-native", "", "wrapped native token address")
	flags.String("sender-wallet", "", "wallet that submits maker orders")
	flags.Duration("poll-interval", 3*time.Second, "maker pricing polling interval")
	flags.Duration("cache-ttl", 3*time.Second, "maker pricing cache TTL")
	flags.Uint64("gas-cost", 100_000, "gas cost reported per maker")
	flags.Duration("maker-timeout", 2*time.Second, "maker request timeout")
	flags.Float64("maker-rps", 50, "maker requests per second")
	flags.Int("maker-burst", 20, "maker request burst")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
