package match

import (
	"context"
	"testing"
	"time"

	"github.com/lumenex/matchingengine/protocol"
	"github.com/quagmt/udecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_GetRecentTrades(t *testing.T) {
	publish := NewMemoryPublishLog()
	engine := NewMatchingEngine(publish)
	marketID := "BTC-USDT"
	ctx := context.Background()

	_, err := engine.AddOrderBook(marketID)
	require.NoError(t, err)

	require.NoError(t, engine.PlaceOrder(ctx, marketID, &protocol.PlaceOrderCommand{
		OrderID: "ask-1", Side: Sell, OrderType: Limit, Price: "100", Size: "1",
	}))
	require.NoError(t, engine.PlaceOrder(ctx, marketID, &protocol.PlaceOrderCommand{
		OrderID: "bid-1", Side: Buy, OrderType: Limit, Price: "100", Size: "1",
	}))

	var trades []*Trade
	assert.Eventually(t, func() bool {
		var err error
		trades, err = engine.GetRecentTrades(marketID, 10)
		return err == nil && len(trades) == 1
	}, 1*time.Second, 10*time.Millisecond)

	assert.Equal(t, "100", trades[0].Price.String())
	assert.Equal(t, "1", trades[0].Size.String())
}

func TestEngine_GetRecentTrades_BoundedByN(t *testing.T) {
	publish := NewMemoryPublishLog()
	engine := NewMatchingEngine(publish)
	marketID := "BTC-USDT"
	ctx := context.Background()

	_, err := engine.AddOrderBook(marketID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		id := "ask-" + string(rune('a'+i))
		require.NoError(t, engine.PlaceOrder(ctx, marketID, &protocol.PlaceOrderCommand{
			OrderID: id, Side: Sell, OrderType: Limit, Price: "100", Size: "1",
		}))
		require.NoError(t, engine.PlaceOrder(ctx, marketID, &protocol.PlaceOrderCommand{
			OrderID: id + "-taker", Side: Buy, OrderType: Limit, Price: "100", Size: "1",
		}))
	}

	var trades []*Trade
	assert.Eventually(t, func() bool {
		var err error
		trades, err = engine.GetRecentTrades(marketID, 2)
		return err == nil && len(trades) == 2
	}, 1*time.Second, 10*time.Millisecond)
}

func TestEngine_GetRecentTrades_UnknownMarket(t *testing.T) {
	engine := NewMatchingEngine(NewMemoryPublishLog())
	_, err := engine.GetRecentTrades("NOPE-USDT", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_GetDepth(t *testing.T) {
	publish := NewMemoryPublishLog()
	engine := NewMatchingEngine(publish)
	marketID := "BTC-USDT"
	ctx := context.Background()

	_, err := engine.AddOrderBook(marketID)
	require.NoError(t, err)

	require.NoError(t, engine.PlaceOrder(ctx, marketID, &protocol.PlaceOrderCommand{
		OrderID: "ask-1", Side: Sell, OrderType: Limit, Price: "100", Size: "1",
	}))

	assert.Eventually(t, func() bool {
		depth, err := engine.GetDepth(marketID, 10)
		return err == nil && len(depth.Asks) == 1
	}, 1*time.Second, 10*time.Millisecond)
}

func TestEngine_AggregatedDepth(t *testing.T) {
	publish := NewMemoryPublishLog()
	engine := NewMatchingEngine(publish)
	marketID := "BTC-USDT"
	ctx := context.Background()

	_, err := engine.AddOrderBook(marketID)
	require.NoError(t, err)

	require.NoError(t, engine.PlaceOrder(ctx, marketID, &protocol.PlaceOrderCommand{
		OrderID: "ask-1", Side: Sell, OrderType: Limit, Price: "100", Size: "1",
	}))
	require.NoError(t, engine.PlaceOrder(ctx, marketID, &protocol.PlaceOrderCommand{
		OrderID: "ask-2", Side: Sell, OrderType: Limit, Price: "100", Size: "2",
	}))

	price := udecimal.MustFromInt64(100, 0)
	assert.Eventually(t, func() bool {
		depth, err := engine.AggregatedDepth(marketID, Sell, price)
		return err == nil && depth.String() == "3"
	}, 1*time.Second, 10*time.Millisecond)
}

func TestEngine_AggregatedDepth_UnknownMarketReturnsZero(t *testing.T) {
	engine := NewMatchingEngine(NewMemoryPublishLog())
	depth, err := engine.AggregatedDepth("NOPE-USDT", Buy, udecimal.MustFromInt64(100, 0))
	require.NoError(t, err)
	assert.True(t, depth.IsZero())
}
