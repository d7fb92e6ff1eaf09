package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/config"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultOutput is where the wizard writes the generated config.
const DefaultOutput = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers are the wizard inputs in their raw form.
type Answers struct {
	Pair             string
	StartingBalance  string
	DustThreshold    string
	VerificationCost string
	Sources          []string
	FastInterval     string
	SlowInterval     string
	Backend          string
	StoragePath      string
	RedisURL         string
	PostgresDSN      string
	ListenAddr       string
}

// DefaultAnswers prefills the wizard from config.Default.
func DefaultAnswers() Answers {
	def := config.Default()
	return Answers{
		Pair:             def.Pair.String(),
		StartingBalance:  def.StartingBalance.String(),
		DustThreshold:    def.DustThreshold.String(),
		VerificationCost: def.VerificationCost.String(),
		Sources:          def.Sources,
		FastInterval:     def.FastInterval.String(),
		SlowInterval:     def.SlowInterval.String(),
		Backend:          def.Storage.Backend,
		StoragePath:      def.Storage.Path,
		ListenAddr:       def.ListenAddr,
	}
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) (config.Config, error) {
	if path == "" {
		path = DefaultOutput
	}
	a := DefaultAnswers()
	var confirm bool

	// step 1: welcome
	clearScreen()
	fmt.Println(headerStyle.Render("COINCRAZE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Set up your paper portfolio.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PORTFOLIO"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Tracked Pair").
				Description("Must contain underscore (e.g. SOL_USD)").
				Value(&a.Pair).
				Validate(func(s string) error {
					_, err := domain.ParsePair(s)
					return err
				}),
			huh.NewInput().
				Title("Starting Balance").
				Description("Cash the ledger starts with").
				Value(&a.StartingBalance).
				Validate(validatePositive),
			huh.NewInput().
				Title("Dust Threshold").
				Description("Residual value under which a sell closes the position").
				Value(&a.DustThreshold).
				Validate(validateNonNegative),
			huh.NewInput().
				Title("Verification Cost").
				Value(&a.VerificationCost).
				Validate(validateNonNegative),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("COINCRAZE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: PRICE SOURCES"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select price sources").
				Description("Queried in the listed order, first usable answer wins").
				Options(
					huh.NewOption("CoinGecko", config.SourceCoinGecko).Selected(contains(a.Sources, config.SourceCoinGecko)),
					huh.NewOption("Binance", config.SourceBinance).Selected(contains(a.Sources, config.SourceBinance)),
					huh.NewOption("Kraken", config.SourceKraken).Selected(contains(a.Sources, config.SourceKraken)),
					huh.NewOption("Bybit", config.SourceBybit),
					huh.NewOption("Hyperliquid", config.SourceHyperliquid),
				).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("pick at least one source")
					}
					return nil
				}).
				Value(&a.Sources),
			huh.NewInput().
				Title("Fast Poll Interval").
				Description("Duration string (e.g. 10s)").
				Value(&a.FastInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Slow Poll Interval").
				Value(&a.SlowInterval).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("COINCRAZE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: STORAGE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage Backend").
				Options(
					huh.NewOption("JSON file", "file"),
					huh.NewOption("Write-ahead log", "wal"),
					huh.NewOption("Redis", "redis"),
					huh.NewOption("PostgreSQL", "postgres"),
					huh.NewOption("Memory (nothing persists)", "memory"),
				).
				Value(&a.Backend),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	var storageFields []huh.Field
	switch a.Backend {
	case "file", "wal":
		storageFields = append(storageFields, huh.NewInput().Title("Storage Path").Value(&a.StoragePath))
	case "redis":
		storageFields = append(storageFields, huh.NewInput().Title("Redis URL").
			Description("e.g. redis://localhost:6379/0").Value(&a.RedisURL))
	case "postgres":
		storageFields = append(storageFields,
			huh.NewInput().Title("PostgreSQL DSN").Value(&a.PostgresDSN).EchoMode(huh.EchoModePassword),
			huh.NewInput().Title("Redis URL for read cache").Description("Optional").Value(&a.RedisURL))
	}
	storageFields = append(storageFields, huh.NewInput().Title("HTTP Listen Address").Value(&a.ListenAddr))

	err = huh.NewForm(huh.NewGroup(storageFields...)).Run()
	if err != nil {
		return config.Config{}, err
	}

	// confirmation
	clearScreen()
	fmt.Println(headerStyle.Render("COINCRAZE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(Summary(a)))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}
	if !confirm {
		return config.Config{}, fmt.Errorf("setup cancelled by user")
	}

	cfg, err := Write(path, a)
	if err != nil {
		return config.Config{}, err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return cfg, nil
}

// Build validates the answers and turns them into a config.
func Build(a Answers) (config.ConfigTmp, config.Config, error) {
	fast, err := time.ParseDuration(a.FastInterval)
	if err != nil {
		return config.ConfigTmp{}, config.Config{}, fmt.Errorf("invalid fast interval: %w", err)
	}
	slow, err := time.ParseDuration(a.SlowInterval)
	if err != nil {
		return config.ConfigTmp{}, config.Config{}, fmt.Errorf("invalid slow interval: %w", err)
	}

	tmp := config.ConfigTmp{
		Pair:                a.Pair,
		StartingBalanceStr:  a.StartingBalance,
		DustThresholdStr:    a.DustThreshold,
		VerificationCostStr: a.VerificationCost,
		Sources:             a.Sources,
		FastInterval:        fast,
		SlowInterval:        slow,
		Storage: config.StorageTmp{
			Backend:     a.Backend,
			Path:        a.StoragePath,
			RedisURL:    a.RedisURL,
			PostgresDSN: a.PostgresDSN,
		},
		ListenAddr: a.ListenAddr,
	}

	cfg, err := tmp.ToConfig()
	if err != nil {
		return config.ConfigTmp{}, config.Config{}, err
	}
	return cfg.ToTmp(), cfg, nil
}

// Write builds the config and saves it as yaml.
func Write(path string, a Answers) (config.Config, error) {
	tmp, cfg, err := Build(a)
	if err != nil {
		return config.Config{}, err
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return config.Config{}, fmt.Errorf("failed to save config file: %w", err)
	}
	return cfg, nil
}

// Summary renders the answers for the confirmation step.
func Summary(a Answers) string {
	return fmt.Sprintf(
		"Pair: %s\nStarting balance: %s\nSources: %s\nPolling: %s / %s\nStorage: %s\nListen: %s\n",
		a.Pair, a.StartingBalance, strings.Join(a.Sources, ", "), a.FastInterval, a.SlowInterval, a.Backend, a.ListenAddr,
	)
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

func validateNonNegative(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
