package match

import (
	"sync"

	"github.com/quagmt/udecimal"
	"github.com/shopspring/decimal"
)

// MarketDataSink decorates a PublishLog, replaying every BookLog into a
// per-market AggregatedBook before forwarding it unchanged to the wrapped
// publisher. It is the downstream depth-by-price-level view spec's market
// data feed exposes, kept live from the same log stream trades and
// risk observation already consume.
type MarketDataSink struct {
	next PublishLog

	mu    sync.RWMutex
	books map[string]*AggregatedBook
}

// NewMarketDataSink wraps next with per-market aggregated-depth tracking.
func NewMarketDataSink(next PublishLog) *MarketDataSink {
	return &MarketDataSink{next: next, books: make(map[string]*AggregatedBook)}
}

// Publish replays each log into its market's AggregatedBook synchronously,
// per PublishLog's contract that BookLog data must be read before
// returning, then forwards every log to the wrapped publisher unchanged.
func (s *MarketDataSink) Publish(logs ...*BookLog) {
	for _, log := range logs {
		book := s.bookFor(log.MarketID)
		if err := book.Replay(log); err != nil {
			logger.Warn("aggregated book sequence gap, depth view may be stale",
				"market_id", log.MarketID, "seq_id", log.SequenceID, "error", err)
		}
	}
	s.next.Publish(logs...)
}

func (s *MarketDataSink) bookFor(marketID string) *AggregatedBook {
	s.mu.RLock()
	book, ok := s.books[marketID]
	s.mu.RUnlock()
	if ok {
		return book
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok = s.books[marketID]; ok {
		return book
	}
	book = NewAggregatedBook()
	s.books[marketID] = book
	return book
}

// AggregatedDepth returns the aggregated size resting at price on side of
// marketID's book, as tracked purely from the replayed log stream rather
// than a direct read of the live order book.
func (s *MarketDataSink) AggregatedDepth(marketID string, side Side, price udecimal.Decimal) (udecimal.Decimal, error) {
	s.mu.RLock()
	book, ok := s.books[marketID]
	s.mu.RUnlock()
	if !ok {
		return udecimal.Zero, nil
	}

	decPrice, err := decimal.NewFromString(price.String())
	if err != nil {
		return udecimal.Zero, err
	}

	size, err := book.Depth(side, decPrice)
	if err != nil {
		return udecimal.Zero, err
	}

	out, err := udecimal.Parse(size.String())
	if err != nil {
		return udecimal.Zero, err
	}
	return out, nil
}
