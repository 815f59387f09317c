// Package risk implements pre-trade risk checks that gate an order before
// it reaches the matching engine: a circuit breaker, then six per-account
// limit checks run in a fixed order, short-circuiting on the first failure.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/quagmt/udecimal"
)

// CheckName identifies one of the seven ordered pre-trade checks.
type CheckName string

const (
	CheckCircuitBreaker CheckName = "circuit_breaker"
	CheckOrderSize      CheckName = "order_size"
	CheckPosition       CheckName = "position"
	CheckNotional       CheckName = "notional"
	CheckDailyVolume    CheckName = "daily_volume"
	CheckDrawdown       CheckName = "drawdown"
	CheckPriceDeviation CheckName = "price_deviation"
)

// Side mirrors the book's buy/sell side without importing the match package,
// keeping risk gating usable ahead of, and independent from, the book.
type Side uint8

const (
	Buy Side = iota
	Sell
)

// Order is the minimal shape a risk check needs. Callers adapt their own
// order representation into this before calling Gate.Check.
type Order struct {
	AccountID string
	Symbol    string
	Side      Side
	Price     udecimal.Decimal // zero for market orders
	Size      udecimal.Decimal

	// IsMarket marks a market order, which carries no limit Price. The
	// price deviation check runs against ExecutionPrice instead, per
	// spec's "price deviation (MARKET only)".
	IsMarket bool
	// ExecutionPrice is the price a market order would execute at — the
	// best opposing price at submission time — supplied by the caller
	// since the risk package has no visibility into the order book.
	ExecutionPrice udecimal.Decimal
}

// CheckResult reports the outcome of running the gate against one order.
type CheckResult struct {
	Passed      bool
	FailedCheck CheckName
	Reason      string
	ChecksRun   []CheckName
}

// Position tracks one account's holdings in one symbol, plus the inputs the
// Drawdown check needs. RealizedPnL and StartingEquity have no equivalent in
// the matching engine's own data model; they exist only so Drawdown has a
// concrete input, per the account equity = StartingEquity + RealizedPnL.
type Position struct {
	Net            udecimal.Decimal
	RealizedPnL    udecimal.Decimal
	StartingEquity udecimal.Decimal
}

// Config configures the risk gate's limits. All size/value limits are
// expressed in the same decimal unit as orders (no implicit cents scaling).
type Config struct {
	MaxOrderSize          udecimal.Decimal
	MaxNotional           udecimal.Decimal
	MaxPositionSize       udecimal.Decimal
	SymbolPositionLimits  map[string]udecimal.Decimal
	MaxDailyVolume        udecimal.Decimal
	MaxDrawdownPercent    float64 // e.g. 0.2 = account may lose up to 20% of starting equity
	PriceDeviationPercent float64 // e.g. 0.1 = 10% band around the reference price
	DefaultStartingEquity udecimal.Decimal
	CircuitBreaker        CircuitBreakerConfig
}

// Gate runs the seven-check pre-trade pipeline and tracks the per-account
// and per-symbol state the checks need (positions, daily volume, reference
// prices), guarded by a single RWMutex as the corpus's risk checker does.
type Gate struct {
	config Config

	mu              sync.RWMutex
	positions       map[string]map[string]*Position // account -> symbol -> position
	dailyVolume     map[string]udecimal.Decimal      // account -> quantity traded today
	referencePrices map[string]udecimal.Decimal      // symbol -> last traded price

	breakers   map[string]*CircuitBreaker // symbol -> breaker
	breakersMu sync.Mutex
}

// NewGate creates a risk gate with the given configuration.
func NewGate(config Config) *Gate {
	return &Gate{
		config:          config,
		positions:       make(map[string]map[string]*Position),
		dailyVolume:     make(map[string]udecimal.Decimal),
		referencePrices: make(map[string]udecimal.Decimal),
		breakers:        make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the circuit breaker for symbol, creating one on first use.
func (g *Gate) Breaker(symbol string) *CircuitBreaker {
	g.breakersMu.Lock()
	defer g.breakersMu.Unlock()

	cb, ok := g.breakers[symbol]
	if !ok {
		cfg := g.config.CircuitBreaker
		if cfg == (CircuitBreakerConfig{}) {
			cfg = DefaultCircuitBreakerConfig()
		}
		cb = NewCircuitBreaker(cfg)
		g.breakers[symbol] = cb
	}
	return cb
}

// Check runs the seven checks in order: circuit breaker, order size,
// position, notional, daily volume, drawdown, price deviation. It returns
// on the first failure.
func (g *Gate) Check(order Order) CheckResult {
	result := CheckResult{Passed: true, ChecksRun: make([]CheckName, 0, 7)}

	result.ChecksRun = append(result.ChecksRun, CheckCircuitBreaker)
	breaker := g.Breaker(order.Symbol)
	breaker.ObserveArrival(time.Now())
	if breaker.IsTripped() {
		return fail(result, CheckCircuitBreaker, fmt.Sprintf("circuit breaker tripped for %s", order.Symbol))
	}

	result.ChecksRun = append(result.ChecksRun, CheckOrderSize)
	if !g.config.MaxOrderSize.IsZero() && order.Size.GreaterThan(g.config.MaxOrderSize) {
		return fail(result, CheckOrderSize, fmt.Sprintf("order size %s exceeds max %s", order.Size, g.config.MaxOrderSize))
	}

	result.ChecksRun = append(result.ChecksRun, CheckPosition)
	if reason, ok := g.checkPosition(order); !ok {
		return fail(result, CheckPosition, reason)
	}

	result.ChecksRun = append(result.ChecksRun, CheckNotional)
	if reason, ok := g.checkNotional(order); !ok {
		return fail(result, CheckNotional, reason)
	}

	result.ChecksRun = append(result.ChecksRun, CheckDailyVolume)
	if reason, ok := g.checkDailyVolume(order.AccountID, order.Size); !ok {
		return fail(result, CheckDailyVolume, reason)
	}

	result.ChecksRun = append(result.ChecksRun, CheckDrawdown)
	if reason, ok := g.checkDrawdown(order.AccountID); !ok {
		return fail(result, CheckDrawdown, reason)
	}

	if order.IsMarket {
		result.ChecksRun = append(result.ChecksRun, CheckPriceDeviation)
		if reason, ok := g.checkPriceDeviation(order); !ok {
			return fail(result, CheckPriceDeviation, reason)
		}
	}

	return result
}

func fail(result CheckResult, check CheckName, reason string) CheckResult {
	result.Passed = false
	result.FailedCheck = check
	result.Reason = reason
	return result
}

func (g *Gate) checkPosition(order Order) (string, bool) {
	g.mu.RLock()
	pos := g.positionLocked(order.AccountID, order.Symbol)
	g.mu.RUnlock()

	net := pos.Net
	if order.Side == Buy {
		net = net.Add(order.Size)
	} else {
		net = net.Sub(order.Size)
	}
	if net.LessThan(udecimal.Zero) {
		net = net.Neg()
	}

	limit := g.config.MaxPositionSize
	if symLimit, ok := g.config.SymbolPositionLimits[order.Symbol]; ok {
		limit = symLimit
	}
	if !limit.IsZero() && net.GreaterThan(limit) {
		return fmt.Sprintf("position would reach %s, exceeding max %s", net, limit), false
	}
	return "", true
}

// checkNotional computes the order's notional value and compares it against
// MaxNotional. A market order carries no limit Price, so it uses
// ExecutionPrice (the best opposing price at submission time, supplied by
// the caller) instead — the check has no meaning without some price, but
// that price need not come from the order itself.
func (g *Gate) checkNotional(order Order) (string, bool) {
	price := order.Price
	if order.IsMarket {
		price = order.ExecutionPrice
	}
	if price.IsZero() || g.config.MaxNotional.IsZero() {
		return "", true
	}
	notional := price.Mul(order.Size)
	if notional.GreaterThan(g.config.MaxNotional) {
		return fmt.Sprintf("order notional %s exceeds max %s", notional, g.config.MaxNotional), false
	}
	return "", true
}

// checkDailyVolume compares an account's running-day cumulative quantity,
// plus this order's quantity, against MaxDailyVolume. Quantity, not
// notional, so it applies identically to market and limit orders with no
// price dependency at all.
func (g *Gate) checkDailyVolume(accountID string, size udecimal.Decimal) (string, bool) {
	g.mu.RLock()
	current := g.dailyVolume[accountID]
	g.mu.RUnlock()

	if g.config.MaxDailyVolume.IsZero() {
		return "", true
	}
	projected := current.Add(size)
	if projected.GreaterThan(g.config.MaxDailyVolume) {
		return fmt.Sprintf("daily volume would reach %s, exceeding max %s", projected, g.config.MaxDailyVolume), false
	}
	return "", true
}

func (g *Gate) checkDrawdown(accountID string) (string, bool) {
	if g.config.MaxDrawdownPercent <= 0 {
		return "", true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	accts, ok := g.positions[accountID]
	if !ok {
		return "", true
	}

	floorRatio, err := udecimal.Parse(fmt.Sprintf("%.8f", 1-g.config.MaxDrawdownPercent))
	if err != nil {
		return "", true
	}

	for _, pos := range accts {
		if pos.StartingEquity.IsZero() {
			continue
		}
		equity := pos.StartingEquity.Add(pos.RealizedPnL)
		floorEquity := pos.StartingEquity.Mul(floorRatio)
		if equity.LessThan(floorEquity) {
			return fmt.Sprintf("account equity %s below drawdown floor %s (%.0f%% of starting equity %s)",
				equity, floorEquity, (1-g.config.MaxDrawdownPercent)*100, pos.StartingEquity), false
		}
	}
	return "", true
}

func (g *Gate) checkPriceDeviation(order Order) (string, bool) {
	if g.config.PriceDeviationPercent <= 0 {
		return "", true
	}

	g.mu.RLock()
	ref, ok := g.referencePrices[order.Symbol]
	g.mu.RUnlock()
	if !ok || ref.IsZero() {
		return "", true
	}

	pct, err := udecimal.Parse(fmt.Sprintf("%.8f", g.config.PriceDeviationPercent))
	if err != nil {
		return "", true
	}

	band := ref.Mul(pct)
	low := ref.Sub(band)
	high := ref.Add(band)
	if order.ExecutionPrice.LessThan(low) || order.ExecutionPrice.GreaterThan(high) {
		return fmt.Sprintf("execution price %s outside band [%s, %s] around reference %s", order.ExecutionPrice, low, high, ref), false
	}
	return "", true
}

func (g *Gate) positionLocked(accountID, symbol string) *Position {
	accts, ok := g.positions[accountID]
	if !ok {
		return &Position{StartingEquity: g.config.DefaultStartingEquity}
	}
	pos, ok := accts[symbol]
	if !ok {
		return &Position{StartingEquity: g.config.DefaultStartingEquity}
	}
	return pos
}

func (g *Gate) ensurePosition(accountID, symbol string) *Position {
	accts, ok := g.positions[accountID]
	if !ok {
		accts = make(map[string]*Position)
		g.positions[accountID] = accts
	}
	pos, ok := accts[symbol]
	if !ok {
		pos = &Position{StartingEquity: g.config.DefaultStartingEquity}
		accts[symbol] = pos
	}
	return pos
}

// UpdatePosition records a fill against an account's net position.
func (g *Gate) UpdatePosition(accountID, symbol string, side Side, size udecimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos := g.ensurePosition(accountID, symbol)
	if side == Buy {
		pos.Net = pos.Net.Add(size)
	} else {
		pos.Net = pos.Net.Sub(size)
	}
}

// RecordRealizedPnL adjusts an account's realized P&L, used by the
// Drawdown check.
func (g *Gate) RecordRealizedPnL(accountID, symbol string, delta udecimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos := g.ensurePosition(accountID, symbol)
	pos.RealizedPnL = pos.RealizedPnL.Add(delta)
}

// UpdateDailyVolume accumulates an account's traded quantity for the day.
func (g *Gate) UpdateDailyVolume(accountID string, size udecimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyVolume[accountID] = g.dailyVolume[accountID].Add(size)
}

// ResetDailyVolume clears every account's daily volume counter. Called at
// the start of a trading day.
func (g *Gate) ResetDailyVolume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyVolume = make(map[string]udecimal.Decimal)
}

// SetReferencePrice updates the last-traded price used by the price
// deviation check. Called after each trade.
func (g *Gate) SetReferencePrice(symbol string, price udecimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.referencePrices[symbol] = price

	g.Breaker(symbol).Observe(price)
}

// ObserveTradeVolume feeds a trade's size to symbol's circuit breaker for
// the volume-spike trigger. Called once per trade.
func (g *Gate) ObserveTradeVolume(symbol string, size udecimal.Decimal) {
	g.Breaker(symbol).ObserveVolume(size)
}

// GetPosition returns an account's current net position in symbol.
func (g *Gate) GetPosition(accountID, symbol string) udecimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.positionLocked(accountID, symbol).Net
}

// GetDailyVolume returns an account's accumulated daily volume.
func (g *Gate) GetDailyVolume(accountID string) udecimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dailyVolume[accountID]
}
