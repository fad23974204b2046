package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultRegistryAddress = "0xe30E9c001dEFb5F0B04fD21662454A2427F4257A"
	DefaultSwapContract    = "0xD82E10B9A4107939e55fCCa9B53A9ede6CF2fC46"
	DefaultWrappedNative   = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

// Chain holds settings shared by every command that reads the registry.
type Chain struct {
	RPCURL          string
	RegistryAddress string
	RegistryBlock   uint64
	BatchSize       uint64
	MaxRetries      int
	RetryBackoff    time.Duration
	ServerURLs      []string
	DecodeErrors    string
	LogLevel        string
}

// Pricing holds maker polling and pricing settings.
type Pricing struct {
	DexKey        string
	SwapContract  string
	WrappedNative string
	SenderWallet  string
	PollInterval  time.Duration
	CacheTTL      time.Duration
	GasCost       uint64
	MakerTimeout  time.Duration
	MakerRPS      float64
	MakerBurst    int
}

// RunConfig configures the long running service.
type RunConfig struct {
	Chain
	Pricing
	CacheBackend   string
	PGDSN          string
	MetricsAddr    string
	FollowInterval time.Duration
	Checkpoint     string
	Slave          bool
}

// ServersConfig configures the servers command.
type ServersConfig struct {
	Chain
	Block  uint64
	TokenA string
	TokenB string
}

// QuoteConfig configures the quote command.
type QuoteConfig struct {
	Chain
	Pricing
	Block   uint64
	Src     string
	Dst     string
	Side    string
	Amounts []string
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("cache-backend", "memory")
		v.SetDefault("metrics-addr", ":9102")
		v.SetDefault("follow-interval", 2*time.Second)
		v.SetDefault("checkpoint", "./data/checkpoint.json")
	})
	if err != nil {
		return RunConfig{}, err
	}

	cfg := RunConfig{
		Chain:          chainFrom(v),
		Pricing:        pricingFrom(v),
		CacheBackend:   strings.ToLower(v.GetString("cache-backend")),
		PGDSN:          v.GetString("pg-dsn"),
		MetricsAddr:    v.GetString("metrics-addr"),
		FollowInterval: v.GetDuration("follow-interval"),
		Checkpoint:     v.GetString("checkpoint"),
		Slave:          v.GetBool("slave"),
	}
	switch cfg.CacheBackend {
	case "memory":
	case "postgres":
		if cfg.PGDSN == "" {
			return RunConfig{}, fmt.Errorf("pg-dsn is required for the postgres cache backend")
		}
	default:
		return RunConfig{}, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	return cfg, nil
}

// LoadServers merges config file, environment variables, and flags into ServersConfig.
func LoadServers(cfgFile string, flags *pflag.FlagSet) (ServersConfig, error) {
	v, err := newViper(cfgFile, flags, nil)
	if err != nil {
		return ServersConfig{}, err
	}
	return ServersConfig{
		Chain:  chainFrom(v),
		Block:  v.GetUint64("block"),
		TokenA: v.GetString("token-a"),
		TokenB: v.GetString("token-b"),
	}, nil
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("side", "sell")
	})
	if err != nil {
		return QuoteConfig{}, err
	}
	cfg := QuoteConfig{
		Chain:   chainFrom(v),
		Pricing: pricingFrom(v),
		Block:   v.GetUint64("block"),
		Src:     v.GetString("src"),
		Dst:     v.GetString("dst"),
		Side:    v.GetString("side"),
		Amounts: getStringSlice(v, "amounts"),
	}
	if cfg.Src == "" || cfg.Dst == "" {
		return QuoteConfig{}, fmt.Errorf("src and dst are required")
	}
	if len(cfg.Amounts) == 0 {
		return QuoteConfig{}, fmt.Errorf("at least one amount is required")
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("RFQSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("registry-address", DefaultRegistryAddress)
	v.SetDefault("batch-size", uint64(5000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
	v.SetDefault("dex-key", "AirSwap")
	v.SetDefault("swap-contract", DefaultSwapContract)
	v.SetDefault("wrapped-native", DefaultWrappedNative)
	v.SetDefault("poll-interval", 3*time.Second)
	v.SetDefault("cache-ttl", 3*time.Second)
	v.SetDefault("gas-cost", uint64(100_000))
	v.SetDefault("maker-timeout", 2*time.Second)
	v.SetDefault("maker-rps", 50.0)
	v.SetDefault("maker-burst", 20)
	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func chainFrom(v *viper.Viper) Chain {
	return Chain{
		RPCURL:          v.GetString("rpc"),
		RegistryAddress: v.GetString("registry-address"),
		RegistryBlock:   v.GetUint64("registry-block"),
		BatchSize:       v.GetUint64("batch-size"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		ServerURLs:      getStringSlice(v, "server-urls"),
		DecodeErrors:    v.GetString("decode-errors"),
		LogLevel:        v.GetString("log-level"),
	}
}

func pricingFrom(v *viper.Viper) Pricing {
	return Pricing{
		DexKey:        v.GetString("dex-key"),
		SwapContract:  v.GetString("swap-contract"),
		WrappedNative: v.GetString("wrapped-native"),
		SenderWallet:  v.GetString("sender-wallet"),
		PollInterval:  v.GetDuration("poll-interval"),
		CacheTTL:      v.GetDuration("cache-ttl"),
		GasCost:       v.GetUint64("gas-cost"),
		MakerTimeout:  v.GetDuration("maker-timeout"),
		MakerRPS:      v.GetFloat64("maker-rps"),
		MakerBurst:    v.GetInt("maker-burst"),
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
