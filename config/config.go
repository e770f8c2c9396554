package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var (
	errUnknownKey   = errors.New("config: unknown key")
	errMissingField = errors.New("config: missing required field")
	errBadAmount    = errors.New("config: invalid amount")
)

// Duration wraps time.Duration for TOML decoding from strings like "15m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the daemon's runtime configuration. Economic parameters are fixed
// at load time; changing them requires an explicit restart, mirroring the
// immutable-post-deploy contract of the engines.
type Config struct {
	Service       string `toml:"Service"`
	Env           string `toml:"Env"`
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogFile       string `toml:"LogFile"`
	BasketFile    string `toml:"BasketFile"`

	TokenSymbol string `toml:"TokenSymbol"`
	StakeSymbol string `toml:"StakeSymbol"`

	OracleErrorBps uint64 `toml:"OracleErrorBps"`
	MaxSlippageBps uint64 `toml:"MaxSlippageBps"`
	MeltShareBps   uint64 `toml:"MeltShareBps"`

	MinTradeVolume string `toml:"MinTradeVolume"`
	MaxTradeVolume string `toml:"MaxTradeVolume"`

	RewardPeriod        Duration `toml:"RewardPeriod"`
	PriceTimeout        Duration `toml:"PriceTimeout"`
	PriceStaleness      Duration `toml:"PriceStaleness"`
	MaintenanceInterval Duration `toml:"MaintenanceInterval"`
}

// Load reads and validates the configuration at path, applying defaults for
// optional fields. Unknown keys are rejected so typos fail loudly instead of
// silently running with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("%w: %s", errUnknownKey, undecoded.String())
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = "rtokend"
	}
	if c.ListenAddress == "" {
		c.ListenAddress = ":8551"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.MeltShareBps == 0 {
		c.MeltShareBps = 5000
	}
	if c.RewardPeriod.Duration == 0 {
		c.RewardPeriod.Duration = time.Hour
	}
	if c.PriceTimeout.Duration == 0 {
		c.PriceTimeout.Duration = 5 * time.Minute
	}
	if c.PriceStaleness.Duration == 0 {
		c.PriceStaleness.Duration = 24 * time.Hour
	}
	if c.MaintenanceInterval.Duration == 0 {
		c.MaintenanceInterval.Duration = time.Minute
	}
}

// Validate checks internal consistency. A failed validation leaves the caller
// with no configuration; prior state is never partially overwritten.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TokenSymbol) == "" {
		return fmt.Errorf("%w: TokenSymbol", errMissingField)
	}
	if strings.TrimSpace(c.StakeSymbol) == "" {
		return fmt.Errorf("%w: StakeSymbol", errMissingField)
	}
	if c.OracleErrorBps >= 10_000 {
		return errors.New("config: OracleErrorBps must be below 10000")
	}
	if c.MaxSlippageBps >= 10_000 {
		return errors.New("config: MaxSlippageBps must be below 10000")
	}
	if c.MeltShareBps > 10_000 {
		return errors.New("config: MeltShareBps must be at most 10000")
	}
	if c.PriceStaleness.Duration < c.PriceTimeout.Duration {
		return errors.New("config: PriceStaleness must not be shorter than PriceTimeout")
	}
	if _, err := c.amount(c.MinTradeVolume); err != nil {
		return fmt.Errorf("MinTradeVolume: %w", err)
	}
	if _, err := c.amount(c.MaxTradeVolume); err != nil {
		return fmt.Errorf("MaxTradeVolume: %w", err)
	}
	return nil
}

// MinVolume returns the wad-scaled minimum trade volume, nil when unset.
func (c *Config) MinVolume() *big.Int {
	v, _ := c.amount(c.MinTradeVolume)
	return v
}

// MaxVolume returns the wad-scaled maximum trade volume, nil when unset.
func (c *Config) MaxVolume() *big.Int {
	v, _ := c.amount(c.MaxTradeVolume)
	return v
}

func (c *Config) amount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	return ParseWad(raw)
}
