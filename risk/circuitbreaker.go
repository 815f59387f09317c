package risk

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/quagmt/udecimal"
)

// CircuitBreakerState is the lifecycle of one symbol's circuit breaker.
type CircuitBreakerState uint8

const (
	// CircuitBreakerClosed allows orders through normally.
	CircuitBreakerClosed CircuitBreakerState = iota
	// CircuitBreakerTripped halts a symbol until Reset is called, or until
	// the configured Cooldown elapses when Cooldown is non-zero.
	CircuitBreakerTripped
)

const (
	// returnWindow bounds how many price-move returns feed the volatility
	// trigger; oldest observations drop as new ones arrive.
	returnWindow = 30
	// volumeWindow bounds how many trade sizes feed the volume-spike
	// trigger.
	volumeWindow = 20
	// orderRateWindow is the trailing window the order-rate trigger counts
	// arrivals over, per spec's "arrivals in the trailing 1s window".
	orderRateWindow = time.Second
	// annualizationFactor approximates each price observation as one
	// trading day's return when annualising volatility; the underlying
	// engine has no notion of calendar time between trades, so this is a
	// deliberate simplification (documented in DESIGN.md) rather than a
	// real per-trade-to-per-year conversion.
	annualizationFactor = 252.0
)

// CircuitBreakerConfig configures all four trip triggers named in spec
// §4.2: price move, annualised volatility, volume spike, and order rate.
// A zero value for any Max* field disables that trigger.
type CircuitBreakerConfig struct {
	// MaxMovePercent trips the breaker when a new reference price deviates
	// from the last one by more than this fraction (e.g. 0.1 = 10%).
	MaxMovePercent float64
	// MaxVolatility trips the breaker when the annualised stdev of recent
	// price-move returns exceeds this fraction (e.g. 0.5 = 50%).
	MaxVolatility float64
	// MaxVolumeSpike trips the breaker when a trade's size exceeds the
	// mean of recent trade sizes by more than this amount, in the same
	// unit as order size.
	MaxVolumeSpike float64
	// MaxOrderRate trips the breaker when more than this many orders
	// arrive within the trailing 1-second window.
	MaxOrderRate int
	// Cooldown is how long a trip lasts before the breaker closes itself.
	// Zero disables auto-reset; Reset must be called manually.
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns spec's two named defaults (10% price
// move, 50% annualised volatility) with the volume-spike and order-rate
// triggers disabled, since the spec gives no instrument-agnostic default
// for either (they are expressed in raw size/count units a given market
// must calibrate).
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxMovePercent: 0.10, MaxVolatility: 0.50}
}

// CircuitBreaker trips on any of four triggers observed for one symbol:
// a single large price move, elevated recent volatility, a volume spike,
// or an order-arrival rate spike. Each trigger keeps its own bounded,
// drop-oldest history per spec's "history windows are bounded deques".
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu        sync.Mutex
	state     CircuitBreakerState
	lastPrice udecimal.Decimal
	trippedAt time.Time

	returns  []float64
	volumes  []float64
	arrivals []time.Time
}

// NewCircuitBreaker creates a closed circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: config, state: CircuitBreakerClosed}
}

// Observe feeds a new reference price to the breaker, checking both the
// price-move and volatility triggers.
func (cb *CircuitBreaker) Observe(price udecimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resolveCooldownLocked()

	if cb.lastPrice.IsZero() {
		cb.lastPrice = price
		return
	}

	move := price.Sub(cb.lastPrice)
	if move.LessThan(udecimal.Zero) {
		move = move.Neg()
	}

	if cb.config.MaxMovePercent > 0 {
		if threshold, err := udecimal.Parse(fmt.Sprintf("%.8f", cb.config.MaxMovePercent)); err == nil {
			limit := cb.lastPrice.Mul(threshold)
			if move.GreaterThan(limit) {
				cb.tripLocked()
			}
		}
	}

	if cb.config.MaxVolatility > 0 {
		lastF := decimalToFloat64(cb.lastPrice)
		if lastF != 0 {
			ret := (decimalToFloat64(price) - lastF) / lastF
			cb.returns = appendBounded(cb.returns, ret, returnWindow)
			if annualizedStdev(cb.returns) > cb.config.MaxVolatility {
				cb.tripLocked()
			}
		}
	}

	cb.lastPrice = price
}

// ObserveVolume feeds a trade's size to the breaker's volume-spike
// trigger: it trips when size exceeds the mean of recent trade sizes by
// more than MaxVolumeSpike.
func (cb *CircuitBreaker) ObserveVolume(size udecimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.MaxVolumeSpike <= 0 {
		return
	}

	cb.resolveCooldownLocked()

	current := decimalToFloat64(size)
	if len(cb.volumes) > 0 && current-mean(cb.volumes) > cb.config.MaxVolumeSpike {
		cb.tripLocked()
	}
	cb.volumes = appendBounded(cb.volumes, current, volumeWindow)
}

// ObserveArrival feeds one order arrival to the breaker's order-rate
// trigger: it trips when more than MaxOrderRate arrivals fall within the
// trailing 1-second window.
func (cb *CircuitBreaker) ObserveArrival(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.MaxOrderRate <= 0 {
		return
	}

	cb.resolveCooldownLocked()

	cutoff := now.Add(-orderRateWindow)
	live := cb.arrivals[:0]
	for _, t := range cb.arrivals {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	cb.arrivals = append(live, now)

	if len(cb.arrivals) > cb.config.MaxOrderRate {
		cb.tripLocked()
	}
}

// Trip forces the breaker open, e.g. from an operator command.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tripLocked()
}

// Reset manually closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitBreakerClosed
}

// IsTripped reports whether the breaker currently blocks orders, resolving
// any elapsed auto-reset cooldown first.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resolveCooldownLocked()
	return cb.state == CircuitBreakerTripped
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = CircuitBreakerTripped
	cb.trippedAt = time.Now()
}

func (cb *CircuitBreaker) resolveCooldownLocked() {
	if cb.config.Cooldown > 0 && cb.state == CircuitBreakerTripped && time.Since(cb.trippedAt) >= cb.config.Cooldown {
		cb.state = CircuitBreakerClosed
	}
}

// decimalToFloat64 converts via String()/ParseFloat rather than a direct
// udecimal conversion method, since none is exercised anywhere in the
// corpus to ground a call on.
func decimalToFloat64(d udecimal.Decimal) float64 {
	f, _ := strconv.ParseFloat(d.String(), 64)
	return f
}

// appendBounded appends v to hist, dropping the oldest entry once hist
// would exceed max.
func appendBounded(hist []float64, v float64, max int) []float64 {
	hist = append(hist, v)
	if len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	return hist
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// annualizedStdev computes the sample stdev of returns and scales it by
// sqrt(annualizationFactor), the standard square-root-of-time rule.
func annualizedStdev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var sumSq float64
	for _, r := range returns {
		d := r - m
		sumSq += d * d
	}
	variance := sumSq / float64(len(returns)-1)
	return math.Sqrt(variance) * math.Sqrt(annualizationFactor)
}
