package match

import (
	"fmt"
	"os"
	"time"

	"github.com/lumenex/matchingengine/risk"
	"github.com/quagmt/udecimal"
	"gopkg.in/yaml.v3"
)

// Config is the top-level, YAML-loadable configuration for a matching
// engine process: one block per market plus the shared ingress queue and
// risk gate settings. It mirrors the functional-options constructors
// (OrderBookOption, EngineOption) field for field, so a loaded Config can
// be turned directly into the options those constructors take.
type Config struct {
	Engine  EngineConfig            `yaml:"engine"`
	Risk    RiskConfig              `yaml:"risk"`
	Markets map[string]MarketConfig `yaml:"markets"`
}

// EngineConfig carries the ingress queue sizing named in spec §4.3.
// NewMatchingEngine does not read it; no IngressQueue or worker pool is
// built from these values.
type EngineConfig struct {
	// QueueSize is the ingress ring buffer's capacity; must be a power of
	// two. Defaults to 100000 rounded up to 131072 (2^17) if unset.
	QueueSize int `yaml:"queue_size"`
	// Workers is the number of consumer goroutines draining the ingress
	// queue. Defaults to 1 if unset.
	Workers int `yaml:"workers"`
}

// RiskConfig is the YAML shape of risk.Config, using plain strings for
// decimal fields so the file format has no dependency on udecimal.
type RiskConfig struct {
	MaxOrderSize          string            `yaml:"max_order_size"`
	MaxNotional           string            `yaml:"max_notional"`
	MaxPositionSize       string            `yaml:"max_position_size"`
	SymbolPositionLimits  map[string]string `yaml:"symbol_position_limits"`
	MaxDailyVolume        string            `yaml:"max_daily_volume"`
	MaxDrawdownPercent    float64           `yaml:"max_drawdown_percent"`
	PriceDeviationPercent float64           `yaml:"price_deviation_percent"`
	DefaultStartingEquity string            `yaml:"default_starting_equity"`
	CircuitBreaker        CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig is the YAML shape of risk.CircuitBreakerConfig.
// A zero CircuitBreaker block in the file falls back to
// risk.DefaultCircuitBreakerConfig (price-move and volatility triggers
// only) rather than disabling the breaker entirely.
type CircuitBreakerConfig struct {
	MaxMovePercent  float64       `yaml:"max_move_percent"`
	MaxVolatility   float64       `yaml:"max_volatility"`
	MaxVolumeSpike  float64       `yaml:"max_volume_spike"`
	MaxOrderRate    int           `yaml:"max_order_rate"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// MarketConfig is one market's worth of OrderBookOption settings.
type MarketConfig struct {
	MinLotSize string `yaml:"min_lot_size"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Engine.QueueSize == 0 {
		cfg.Engine.QueueSize = 131072
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 1
	}
	return &cfg, nil
}

// RiskGate builds a risk.Gate from the parsed risk configuration.
func (c *Config) RiskGate() (*risk.Gate, error) {
	parsed := func(s string) (udecimal.Decimal, error) {
		if s == "" {
			return udecimal.Zero, nil
		}
		return udecimal.Parse(s)
	}

	maxOrderSize, err := parsed(c.Risk.MaxOrderSize)
	if err != nil {
		return nil, fmt.Errorf("config: max_order_size: %w", err)
	}
	maxNotional, err := parsed(c.Risk.MaxNotional)
	if err != nil {
		return nil, fmt.Errorf("config: max_notional: %w", err)
	}
	maxPositionSize, err := parsed(c.Risk.MaxPositionSize)
	if err != nil {
		return nil, fmt.Errorf("config: max_position_size: %w", err)
	}
	maxDailyVolume, err := parsed(c.Risk.MaxDailyVolume)
	if err != nil {
		return nil, fmt.Errorf("config: max_daily_volume: %w", err)
	}
	defaultStartingEquity, err := parsed(c.Risk.DefaultStartingEquity)
	if err != nil {
		return nil, fmt.Errorf("config: default_starting_equity: %w", err)
	}

	symbolLimits := make(map[string]udecimal.Decimal, len(c.Risk.SymbolPositionLimits))
	for symbol, raw := range c.Risk.SymbolPositionLimits {
		limit, err := parsed(raw)
		if err != nil {
			return nil, fmt.Errorf("config: symbol_position_limits[%s]: %w", symbol, err)
		}
		symbolLimits[symbol] = limit
	}

	cb := risk.CircuitBreakerConfig{
		MaxMovePercent: c.Risk.CircuitBreaker.MaxMovePercent,
		MaxVolatility:  c.Risk.CircuitBreaker.MaxVolatility,
		MaxVolumeSpike: c.Risk.CircuitBreaker.MaxVolumeSpike,
		MaxOrderRate:   c.Risk.CircuitBreaker.MaxOrderRate,
		Cooldown:       c.Risk.CircuitBreaker.Cooldown,
	}
	if cb == (risk.CircuitBreakerConfig{}) {
		cb = risk.DefaultCircuitBreakerConfig()
	}

	return risk.NewGate(risk.Config{
		MaxOrderSize:          maxOrderSize,
		MaxNotional:           maxNotional,
		MaxPositionSize:       maxPositionSize,
		SymbolPositionLimits:  symbolLimits,
		MaxDailyVolume:        maxDailyVolume,
		MaxDrawdownPercent:    c.Risk.MaxDrawdownPercent,
		PriceDeviationPercent: c.Risk.PriceDeviationPercent,
		DefaultStartingEquity: defaultStartingEquity,
		CircuitBreaker:        cb,
	}), nil
}

// OrderBookOptions returns the functional options for the named market, as
// configured in the Markets block.
func (c *Config) OrderBookOptions(marketID string) ([]OrderBookOption, error) {
	market, ok := c.Markets[marketID]
	if !ok || market.MinLotSize == "" {
		return nil, nil
	}

	lotSize, err := udecimal.Parse(market.MinLotSize)
	if err != nil {
		return nil, fmt.Errorf("config: markets.%s.min_lot_size: %w", marketID, err)
	}
	return []OrderBookOption{WithLotSize(lotSize)}, nil
}
