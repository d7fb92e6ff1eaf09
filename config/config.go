package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"gopkg.in/yaml.v3"
)

// Source names accepted in the sources list.
const (
	SourceCoinGecko   = "coingecko"
	SourceBinance     = "binance"
	SourceKraken      = "kraken"
	SourceBybit       = "bybit"
	SourceHyperliquid = "hyperliquid"
)

var knownSources = map[string]struct{}{
	SourceCoinGecko:   {},
	SourceBinance:     {},
	SourceKraken:      {},
	SourceBybit:       {},
	SourceHyperliquid: {},
}

type Config struct {
	Pair domain.Pair

	StartingBalance  decimal.Decimal
	DustThreshold    decimal.Decimal
	VerificationCost decimal.Decimal

	// Sources in priority order.
	Sources       []string
	SourceTimeout time.Duration
	// SourceRPS throttles each source, zero disables throttling.
	SourceRPS float64
	// Endpoints overrides source base URLs by source name.
	Endpoints map[string]string

	RetryBase       time.Duration
	RetryCap        time.Duration
	RetryMaxRetries int

	FastInterval time.Duration
	SlowInterval time.Duration
	VisibleGate  time.Duration
	OnlineGate   time.Duration
	Freshness    time.Duration

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	Storage    StorageConfig
	JournalDir string
	ListenAddr string
}

type StorageConfig struct {
	Backend     string
	Path        string
	RedisURL    string
	PostgresDSN string
	CacheTTL    time.Duration
}

type ConfigTmp struct {
	Pair                string            `yaml:"pair"`
	StartingBalanceStr  string            `yaml:"starting_balance,omitempty"`
	DustThresholdStr    string            `yaml:"dust_threshold,omitempty"`
	VerificationCostStr string            `yaml:"verification_cost,omitempty"`
	Sources             []string          `yaml:"sources,omitempty"`
	SourceTimeout       time.Duration     `yaml:"source_timeout,omitempty"`
	SourceRPS           float64           `yaml:"source_rps,omitempty"`
	Endpoints           map[string]string `yaml:"endpoints,omitempty"`
	RetryBase           time.Duration     `yaml:"retry_base,omitempty"`
	RetryCap            time.Duration     `yaml:"retry_cap,omitempty"`
	RetryMaxRetries     *int              `yaml:"retry_max_retries,omitempty"`
	FastInterval        time.Duration     `yaml:"fast_interval,omitempty"`
	SlowInterval        time.Duration     `yaml:"slow_interval,omitempty"`
	VisibleGate         time.Duration     `yaml:"visible_gate,omitempty"`
	OnlineGate          time.Duration     `yaml:"online_gate,omitempty"`
	Freshness           time.Duration     `yaml:"freshness,omitempty"`
	BreakerMaxFailures  uint32            `yaml:"breaker_max_failures,omitempty"`
	BreakerOpenTimeout  time.Duration     `yaml:"breaker_open_timeout,omitempty"`
	Storage             StorageTmp        `yaml:"storage,omitempty"`
	JournalDir          string            `yaml:"journal_dir,omitempty"`
	ListenAddr          string            `yaml:"listen_addr,omitempty"`
}

type StorageTmp struct {
	Backend     string        `yaml:"backend,omitempty"`
	Path        string        `yaml:"path,omitempty"`
	RedisURL    string        `yaml:"redis_url,omitempty"`
	PostgresDSN string        `yaml:"postgres_dsn,omitempty"`
	CacheTTL    time.Duration `yaml:"cache_ttl,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Pair:               domain.Pair{From: "SOL", To: "USD"},
		StartingBalance:    decimal.NewFromInt(1000),
		DustThreshold:      decimal.NewFromFloat(0.01),
		VerificationCost:   decimal.NewFromInt(200),
		Sources:            []string{SourceCoinGecko, SourceBinance, SourceKraken},
		SourceTimeout:      5 * time.Second,
		RetryBase:          time.Second,
		RetryCap:           5 * time.Second,
		RetryMaxRetries:    3,
		FastInterval:       10 * time.Second,
		SlowInterval:       30 * time.Second,
		VisibleGate:        5 * time.Second,
		OnlineGate:         5 * time.Second,
		Freshness:          60 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
		Storage: StorageConfig{
			Backend:  "file",
			Path:     "./wal/ledger.json",
			CacheTTL: 30 * time.Second,
		},
		JournalDir: "./wal/journal",
		ListenAddr: ":8080",
	}
}

// Options are the command line switches.
type Options struct {
	ConfigPath string
	Setup      bool
	Config     Config
}

// Get parses os.Args.
func Get() (Options, error) {
	return Parse(os.Args[1:])
}

// Parse reads the command line. A --config file takes precedence over the other flags.
func Parse(args []string) (Options, error) {
	def := Default()
	fs := flag.NewFlagSet("coincraze", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the configuration wizard")
	pairFlag := fs.String("pair", def.Pair.String(), "tracked pair, example: SOL_USD")
	sources := fs.String("sources", strings.Join(def.Sources, ","), "comma separated price sources in priority order")
	listen := fs.String("listen", def.ListenAddr, "http listen address")
	backend := fs.String("storage", def.Storage.Backend, "storage backend: memory, file, wal, redis, postgres")
	path := fs.String("storage-path", def.Storage.Path, "file or wal storage location")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	opts := Options{ConfigPath: *configPath, Setup: *setup}
	if *configPath != "" {
		cfg, err := Load(*configPath)
		if err != nil {
			return Options{}, err
		}
		opts.Config = cfg
		return opts, nil
	}

	pair, err := domain.ParsePair(*pairFlag)
	if err != nil {
		return Options{}, fmt.Errorf("invalid --pair provided, --pair=%s", *pairFlag)
	}

	cfg := def
	cfg.Pair = pair
	cfg.Sources = splitList(*sources)
	cfg.ListenAddr = *listen
	cfg.Storage.Backend = *backend
	cfg.Storage.Path = *path
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	opts.Config = cfg

	return opts, nil
}

// Load reads a yaml config file.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	return tmp.ToConfig()
}

// ToConfig converts the raw yaml values, filling anything unset with defaults.
func (c ConfigTmp) ToConfig() (Config, error) {
	cfg := Default()

	if c.Pair != "" {
		pair, err := domain.ParsePair(c.Pair)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'pair' param in yaml config: %s, error: %w", c.Pair, err)
		}
		cfg.Pair = pair
	}

	decimals := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"starting_balance", c.StartingBalanceStr, &cfg.StartingBalance},
		{"dust_threshold", c.DustThresholdStr, &cfg.DustThreshold},
		{"verification_cost", c.VerificationCostStr, &cfg.VerificationCost},
	}
	for _, d := range decimals {
		if d.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", d.name, err)
		}
		*d.dst = v
	}

	if len(c.Sources) > 0 {
		cfg.Sources = c.Sources
	}
	if c.Endpoints != nil {
		cfg.Endpoints = c.Endpoints
	}
	cfg.SourceRPS = c.SourceRPS
	if c.RetryMaxRetries != nil {
		cfg.RetryMaxRetries = *c.RetryMaxRetries
	}
	if c.BreakerMaxFailures != 0 {
		cfg.BreakerMaxFailures = c.BreakerMaxFailures
	}

	durations := []struct {
		raw time.Duration
		dst *time.Duration
	}{
		{c.SourceTimeout, &cfg.SourceTimeout},
		{c.RetryBase, &cfg.RetryBase},
		{c.RetryCap, &cfg.RetryCap},
		{c.FastInterval, &cfg.FastInterval},
		{c.SlowInterval, &cfg.SlowInterval},
		{c.VisibleGate, &cfg.VisibleGate},
		{c.OnlineGate, &cfg.OnlineGate},
		{c.Freshness, &cfg.Freshness},
		{c.BreakerOpenTimeout, &cfg.BreakerOpenTimeout},
		{c.Storage.CacheTTL, &cfg.Storage.CacheTTL},
	}
	for _, d := range durations {
		if d.raw != 0 {
			*d.dst = d.raw
		}
	}

	if c.Storage.Backend != "" {
		cfg.Storage.Backend = c.Storage.Backend
	}
	if c.Storage.Path != "" {
		cfg.Storage.Path = c.Storage.Path
	}
	cfg.Storage.RedisURL = c.Storage.RedisURL
	cfg.Storage.PostgresDSN = c.Storage.PostgresDSN
	if c.JournalDir != "" {
		cfg.JournalDir = c.JournalDir
	}
	if c.ListenAddr != "" {
		cfg.ListenAddr = c.ListenAddr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and source names.
func (c Config) Validate() error {
	if c.StartingBalance.IsNegative() {
		return fmt.Errorf("starting balance must not be negative, got %s", c.StartingBalance)
	}
	if c.DustThreshold.IsNegative() {
		return fmt.Errorf("dust threshold must not be negative, got %s", c.DustThreshold)
	}
	if c.VerificationCost.IsNegative() {
		return fmt.Errorf("verification cost must not be negative, got %s", c.VerificationCost)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one price source is required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if _, ok := knownSources[s]; !ok {
			return fmt.Errorf("unknown price source %q", s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("price source %q listed twice", s)
		}
		seen[s] = struct{}{}
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("source timeout must be positive")
	}
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("retry max retries must not be negative")
	}
	if c.RetryCap < c.RetryBase {
		return fmt.Errorf("retry cap %s is below retry base %s", c.RetryCap, c.RetryBase)
	}
	if c.FastInterval <= 0 || c.SlowInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	switch c.Storage.Backend {
	case "memory", "file", "wal":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis storage requires redis_url")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres storage requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// ToTmp renders the config back into its yaml form.
func (c Config) ToTmp() ConfigTmp {
	retries := c.RetryMaxRetries
	return ConfigTmp{
		Pair:                c.Pair.String(),
		StartingBalanceStr:  c.StartingBalance.String(),
		DustThresholdStr:    c.DustThreshold.String(),
		VerificationCostStr: c.VerificationCost.String(),
		Sources:             c.Sources,
		SourceTimeout:       c.SourceTimeout,
		SourceRPS:           c.SourceRPS,
		Endpoints:           c.Endpoints,
		RetryBase:           c.RetryBase,
		RetryCap:            c.RetryCap,
		RetryMaxRetries:     &retries,
		FastInterval:        c.FastInterval,
		SlowInterval:        c.SlowInterval,
		VisibleGate:         c.VisibleGate,
		OnlineGate:          c.OnlineGate,
		Freshness:           c.Freshness,
		BreakerMaxFailures:  c.BreakerMaxFailures,
		BreakerOpenTimeout:  c.BreakerOpenTimeout,
		Storage: StorageTmp{
			Backend:     c.Storage.Backend,
			Path:        c.Storage.Path,
			RedisURL:    c.Storage.RedisURL,
			PostgresDSN: c.Storage.PostgresDSN,
			CacheTTL:    c.Storage.CacheTTL,
		},
		JournalDir: c.JournalDir,
		ListenAddr: c.ListenAddr,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
