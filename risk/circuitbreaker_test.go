package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_TripsOnLargeMove(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxMovePercent: 0.1})

	cb.Observe(dec(t, "100"))
	assert.False(t, cb.IsTripped())

	cb.Observe(dec(t, "120")) // 20% move, exceeds 10% threshold
	assert.True(t, cb.IsTripped())
	assert.Equal(t, CircuitBreakerTripped, cb.State())
}

func TestCircuitBreaker_StaysClosedOnSmallMove(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxMovePercent: 0.1})

	cb.Observe(dec(t, "100"))
	cb.Observe(dec(t, "105")) // 5% move
	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxMovePercent: 0.1})

	cb.Trip()
	assert.True(t, cb.IsTripped())

	cb.Reset()
	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_AutoResetAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxMovePercent: 0.1, Cooldown: 10 * time.Millisecond})

	cb.Trip()
	assert.True(t, cb.IsTripped())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_FirstObservationNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxMovePercent: 0.1})
	cb.Observe(dec(t, "1000000"))
	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_TripsOnVolatility(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxVolatility: 0.5})

	prices := []string{"100", "110", "95", "115", "90", "120", "85", "125"}
	for _, p := range prices {
		cb.Observe(dec(t, p))
	}

	assert.True(t, cb.IsTripped())
}

func TestCircuitBreaker_StaysClosedOnLowVolatility(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxVolatility: 0.5})

	prices := []string{"100", "100.1", "100.2", "100.1", "100.3"}
	for _, p := range prices {
		cb.Observe(dec(t, p))
	}

	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_TripsOnVolumeSpike(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxVolumeSpike: 50})

	cb.ObserveVolume(dec(t, "10"))
	cb.ObserveVolume(dec(t, "12"))
	cb.ObserveVolume(dec(t, "11"))
	assert.False(t, cb.IsTripped())

	cb.ObserveVolume(dec(t, "1000")) // far above the recent mean
	assert.True(t, cb.IsTripped())
}

func TestCircuitBreaker_StaysClosedWithoutVolumeSpikeConfigured(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	cb.ObserveVolume(dec(t, "10"))
	cb.ObserveVolume(dec(t, "100000"))
	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_TripsOnOrderRate(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxOrderRate: 3})

	now := time.Now()
	cb.ObserveArrival(now)
	cb.ObserveArrival(now.Add(10 * time.Millisecond))
	cb.ObserveArrival(now.Add(20 * time.Millisecond))
	assert.False(t, cb.IsTripped())

	cb.ObserveArrival(now.Add(30 * time.Millisecond))
	assert.True(t, cb.IsTripped())
}

func TestCircuitBreaker_OrderRateWindowSlides(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxOrderRate: 2})

	now := time.Now()
	cb.ObserveArrival(now)
	cb.ObserveArrival(now.Add(2 * time.Second))
	cb.ObserveArrival(now.Add(2100 * time.Millisecond))
	assert.False(t, cb.IsTripped())
}
