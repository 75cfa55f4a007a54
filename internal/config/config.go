// Package config loads the layered YAML configuration surface (spec §6.3)
// with environment-variable overrides layered on top, using
// github.com/spf13/viper + gopkg.in/yaml.v3 the way
// ChoSanghyuk-blackholedex/configs/config.go loads its YAML into typed
// conversion structs, generalized here to replace the teacher's two
// separate env-only loaders (env.go's loadBotEnv + config.go's
// loadConfigFromEnv) with one coherent override chain: YAML file as base,
// environment variables as the final overlay.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// RegimeOverride is one {trending,ranging,choppy} bucket under
// scalping.adaptive_regime (spec §6.3).
type RegimeOverride struct {
	MinScoreThreshold    float64 `mapstructure:"min_score_threshold"`
	TPPercent            float64 `mapstructure:"tp_percent"`
	SLPercent            float64 `mapstructure:"sl_percent"`
	MaxHoldingMinutes    int     `mapstructure:"max_holding_minutes"`
	CooldownAfterLossMin int     `mapstructure:"cooldown_after_loss_minutes"`
	RSIOverbought        float64 `mapstructure:"rsi_ob"`
	RSIOversold          float64 `mapstructure:"rsi_os"`
	EMAFastPeriod        int     `mapstructure:"ema_fast"`
	EMASlowPeriod        int     `mapstructure:"ema_slow"`
	ProfitDrawdownMult   float64 `mapstructure:"profit_drawdown_multiplier"`
}

// SymbolProfile is one entry under scalping.symbol_profiles.<SYMBOL>;
// profiles nested under scalping.adaptive_regime are not read.
type SymbolProfile struct {
	PositionMultiplier float64        `mapstructure:"position_multiplier"`
	Trending           RegimeOverride `mapstructure:"trending"`
	Ranging            RegimeOverride `mapstructure:"ranging"`
	Choppy             RegimeOverride `mapstructure:"choppy"`
}

// BalanceProfileConfig is one equity-band bucket (spec §6.3).
type BalanceProfileConfig struct {
	ThresholdUSD     float64 `mapstructure:"threshold"`
	BasePositionUSD  float64 `mapstructure:"base_position_usd"`
	MaxPositionUSD   float64 `mapstructure:"max_position_usd"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	Progressive      bool    `mapstructure:"progressive"`
	SizeAtMin        float64 `mapstructure:"size_at_min"`
	SizeAtMax        float64 `mapstructure:"size_at_max"`
}

// PartialTPConfig mirrors spec §6.3's scalping.partial_tp.* keys.
type PartialTPConfig struct {
	Enabled        bool                      `mapstructure:"enabled"`
	Fraction       float64                   `mapstructure:"fraction"`
	TriggerPercent float64                   `mapstructure:"trigger_percent"`
	ByRegime       map[string]RegimeOverride `mapstructure:"by_regime"`
}

// ProfitDrawdownByRegime is the multiplier override nested under
// scalping.profit_drawdown.by_regime.
type ProfitDrawdownByRegime struct {
	Multiplier float64 `mapstructure:"multiplier"`
}

// ProfitDrawdownConfig mirrors spec §6.3's scalping.profit_drawdown.* keys.
type ProfitDrawdownConfig struct {
	DrawdownPercent        float64                           `mapstructure:"drawdown_percent"`
	MinProfitToActivateUSD float64                           `mapstructure:"min_profit_to_activate_usd"`
	ByRegime               map[string]ProfitDrawdownByRegime `mapstructure:"by_regime"`
}

// ScalpingConfig groups the scalping.* keys (spec §6.3).
type ScalpingConfig struct {
	CheckIntervalSeconds        int                       `mapstructure:"check_interval"`
	TPPercent                   float64                   `mapstructure:"tp_percent"`
	SLPercent                   float64                   `mapstructure:"sl_percent"`
	PartialTP                   PartialTPConfig           `mapstructure:"partial_tp"`
	ProfitDrawdown              ProfitDrawdownConfig      `mapstructure:"profit_drawdown"`
	BigProfitExitPercentMajors  float64                   `mapstructure:"big_profit_exit_percent_majors"`
	BigProfitExitPercentAlts    float64                   `mapstructure:"big_profit_exit_percent_alts"`
	AdaptiveRegime              map[string]RegimeOverride `mapstructure:"adaptive_regime"`
	SymbolProfiles              map[string]SymbolProfile  `mapstructure:"symbol_profiles"`
	BalanceProfiles             map[string]BalanceProfileConfig `mapstructure:"balance_profiles"`
}

// RiskConfig groups the risk.* keys (spec §6.3).
type RiskConfig struct {
	MaxDailyLossPercent      float64 `mapstructure:"max_daily_loss_percent"`
	ConsecutiveLossesLimit   int     `mapstructure:"consecutive_losses_limit"`
	PairBlockDurationMin     int     `mapstructure:"pair_block_duration_min"`
	MaxOpenPositions         int     `mapstructure:"max_open_positions"`
	RiskPerTradePercent      float64 `mapstructure:"risk_per_trade_percent"`
}

// TradingConfig groups the trading.* keys (spec §6.3).
type TradingConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

// APIConfig groups the api.* keys (spec §6.3).
type APIConfig struct {
	OKXSandbox bool `mapstructure:"okx_sandbox"`
}

// Config is the root configuration tree for the spec §6.3 key groups.
type Config struct {
	Trading  TradingConfig  `mapstructure:"trading"`
	Scalping ScalpingConfig `mapstructure:"scalping"`
	Risk     RiskConfig     `mapstructure:"risk"`
	API      APIConfig      `mapstructure:"api"`
}

// CheckInterval returns scalping.check_interval as a time.Duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Scalping.CheckIntervalSeconds) * time.Second
}

// Load reads an optional .env bootstrap file (for local secrets, never
// committed — github.com/joho/godotenv, replacing the teacher's
// hand-rolled loadBotEnv whitelist loader), then the YAML file at path,
// then layers process environment variables on top via viper's
// AutomaticEnv, matching the override chain spec §6.3 implies (file
// defaults, env for per-deployment secrets/overrides).
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile) // best-effort; absence is not fatal
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks that trading.symbols is non-empty, that
// scalping.check_interval is positive, and that risk.max_open_positions is
// positive when no balance profiles are configured. It does not compare
// trading.symbols with a streaming subscription set, and the
// api.okx_sandbox flag is not checked against credentials here or in any
// adapter (Config itself never holds credentials).
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("config: trading.symbols must not be empty")
	}
	if c.Scalping.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("config: scalping.check_interval must be > 0")
	}
	if c.Risk.MaxOpenPositions <= 0 && c.Scalping.BalanceProfiles == nil {
		return fmt.Errorf("config: risk.max_open_positions must be > 0 when no balance profiles are configured")
	}
	return nil
}
