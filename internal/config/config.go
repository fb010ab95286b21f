// Package config loads the settlement engine's configuration from the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// Commission models. A deployment runs exactly one.
const (
	CommissionModelTurnover     = "turnover"
	CommissionModelRevenueShare = "revenue_share"
)

var (
	defaultTurnoverRates     = []string{"0.005", "0.0025", "0.001"}
	defaultRevenueShareRates = []string{"0.25", "0.10", "0.05"}
)

// HouseEdges is the per-game edge. It is threaded into the payout calculator
// and the fan-out at call time.
type HouseEdges struct {
	Dice   decimal.Decimal `env:"DICE" envDefault:"0.04"`
	Plinko decimal.Decimal `env:"PLINKO" envDefault:"0.04"`
	Mines  decimal.Decimal `env:"MINES" envDefault:"0.04"`
	Crash  decimal.Decimal `env:"CRASH" envDefault:"0.04"`
}

// For returns the configured edge for g.
func (h HouseEdges) For(g model.GameType) decimal.Decimal {
	switch g {
	case model.GameDice:
		return h.Dice
	case model.GamePlinko:
		return h.Plinko
	case model.GameMines:
		return h.Mines
	case model.GameCrash:
		return h.Crash
	}
	return decimal.Zero
}

type RiskConfig struct {
	MinCrashCashout decimal.Decimal `env:"MIN_CRASH_CASHOUT" envDefault:"1.10"`
	MaxWinChance    decimal.Decimal `env:"MAX_WIN_CHANCE" envDefault:"95"`
}

type CommissionConfig struct {
	Model    string   `env:"MODEL" envDefault:"turnover"`
	RawRates []string `env:"RATES" envSeparator:","`

	rates []decimal.Decimal
}

// LevelRates returns the parsed per-level rates, index 0 = direct referrer.
func (c CommissionConfig) LevelRates() []decimal.Decimal {
	return c.rates
}

type FanoutConfig struct {
	Workers     int           `env:"WORKERS" envDefault:"4"`
	Queue       int           `env:"QUEUE" envDefault:"1024"`
	TaskTimeout time.Duration `env:"TASK_TIMEOUT" envDefault:"5s"`
}

type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"bets.settled"`
}

type RateLimitConfig struct {
	Interval   time.Duration `env:"INTERVAL" envDefault:"250ms"`
	EvictEvery time.Duration `env:"EVICT_EVERY" envDefault:"1m"`
}

type Config struct {
	Port            string          `env:"PORT" envDefault:"8080"`
	DatabaseURL     string          `env:"DATABASE_URL"`
	RedisURL        string          `env:"REDIS_URL"`
	CacheTTL        time.Duration   `env:"CACHE_TTL" envDefault:"30s"`
	DefaultCurrency string          `env:"DEFAULT_CURRENCY" envDefault:"USDT"`
	MinBet          decimal.Decimal `env:"MIN_BET" envDefault:"0.00000001"`
	MaxBet          decimal.Decimal `env:"MAX_BET" envDefault:"100000"`
	SeedMaxNonce    int64           `env:"SEED_MAX_NONCE" envDefault:"1000000"`

	HouseEdge  HouseEdges       `envPrefix:"HOUSE_EDGE_"`
	Risk       RiskConfig       `envPrefix:"RISK_"`
	Commission CommissionConfig `envPrefix:"COMMISSION_"`
	Fanout     FanoutConfig     `envPrefix:"FANOUT_"`
	Kafka      KafkaConfig      `envPrefix:"KAFKA_"`
	RateLimit  RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	c.Commission.Model = strings.ToLower(strings.TrimSpace(c.Commission.Model))
	raw := c.Commission.RawRates
	switch c.Commission.Model {
	case CommissionModelTurnover:
		if len(raw) == 0 {
			raw = defaultTurnoverRates
		}
	case CommissionModelRevenueShare:
		if len(raw) == 0 {
			raw = defaultRevenueShareRates
		}
	default:
		return fmt.Errorf("config: unknown commission model %q", c.Commission.Model)
	}
	if len(raw) > 3 {
		return fmt.Errorf("config: at most 3 commission levels, got %d", len(raw))
	}

	c.Commission.rates = make([]decimal.Decimal, 0, len(raw))
	for i, s := range raw {
		rate, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("config: commission rate %d: %w", i+1, err)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("config: commission rate %d out of range: %s", i+1, rate)
		}
		c.Commission.rates = append(c.Commission.rates, rate)
	}

	for _, g := range []model.GameType{model.GameDice, model.GamePlinko, model.GameMines, model.GameCrash} {
		edge := c.HouseEdge.For(g)
		if edge.IsNegative() || edge.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("config: house edge for %s must be in [0, 1), got %s", g, edge)
		}
	}
	if !c.MinBet.IsPositive() || c.MaxBet.LessThan(c.MinBet) {
		return fmt.Errorf("config: invalid bet bounds [%s, %s]", c.MinBet, c.MaxBet)
	}
	if c.SeedMaxNonce <= 0 {
		return fmt.Errorf("config: SEED_MAX_NONCE must be positive")
	}
	return nil
}
