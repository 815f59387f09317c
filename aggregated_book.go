package match

import (
	"errors"
	"sync/atomic"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// ErrSequenceGap is returned by Replay when a log's SequenceID does not
// immediately follow the last one applied, signalling the caller must
// fetch a fresh snapshot via OnRebuild before resuming replay.
var ErrSequenceGap = errors.New("aggregated book: sequence gap detected")

// AggregatedBook maintains a simplified view of the order book,
// tracking only price levels and their aggregated sizes (depth).
// It is designed for downstream services that need to rebuild
// order book state from BookLog events received via message queue.
type AggregatedBook struct {
	seqID atomic.Uint64 // Last processed SequenceID for gap detection and deduplication
	ask   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	bid   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
}

// NewAggregatedBook creates a new AggregatedBook instance with empty ask and bid sides.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		ask: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
		bid: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
	}
}

// SequenceID returns the last processed sequence ID.
// Used for synchronization and gap detection during rebuild.
func (ab *AggregatedBook) SequenceID() uint64 {
	return ab.seqID.Load()
}

func (ab *AggregatedBook) sideMap(side Side) *treemap.TreeMap[decimal.Decimal, decimal.Decimal] {
	if side == Buy {
		return ab.bid
	}
	return ab.ask
}

// Replay applies a BookLog event to update the aggregated book state.
// Events with LogType == LogTypeReject do not affect book state but still update the sequence ID.
// Returns ErrSequenceGap if the event cannot be applied because a prior log was missed.
func (ab *AggregatedBook) Replay(log *BookLog) error {
	last := ab.seqID.Load()
	if last != 0 && log.SequenceID != last+1 {
		return ErrSequenceGap
	}

	change := CalculateDepthChange(log)
	if !change.SizeDiff.IsZero() {
		price, err := decimal.NewFromString(change.Price.String())
		if err != nil {
			return err
		}
		diff, err := decimal.NewFromString(change.SizeDiff.String())
		if err != nil {
			return err
		}

		m := ab.sideMap(change.Side)
		existing, ok := m.Get(price)
		if !ok {
			existing = decimal.Zero
		}

		newSize := existing.Add(diff)
		if newSize.IsZero() || newSize.IsNegative() {
			m.Del(price)
		} else {
			m.Set(price, newSize)
		}
	}

	ab.seqID.Store(log.SequenceID)
	return nil
}

// OnRebuild initializes or resets the aggregated book from a snapshot.
// This should be called before replaying events from the message queue.
func (ab *AggregatedBook) OnRebuild(snap *OrderBookSnapshot) error {
	ab.ask = treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
		return a.LessThan(b)
	})
	ab.bid = treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
		return a.LessThan(b)
	})

	add := func(orders []*Order, m *treemap.TreeMap[decimal.Decimal, decimal.Decimal]) error {
		for _, o := range orders {
			price, err := decimal.NewFromString(o.Price.String())
			if err != nil {
				return err
			}
			size, err := decimal.NewFromString(o.Size.String())
			if err != nil {
				return err
			}

			existing, ok := m.Get(price)
			if !ok {
				existing = decimal.Zero
			}
			m.Set(price, existing.Add(size))
		}
		return nil
	}

	if err := add(snap.Bids, ab.bid); err != nil {
		return err
	}
	if err := add(snap.Asks, ab.ask); err != nil {
		return err
	}

	ab.seqID.Store(snap.SeqID)
	return nil
}

// Depth returns the aggregated size at a specific price level for the given side.
// Returns zero if the price level does not exist.
func (ab *AggregatedBook) Depth(side Side, price decimal.Decimal) (decimal.Decimal, error) {
	size, ok := ab.sideMap(side).Get(price)
	if !ok {
		return decimal.Zero, nil
	}
	return size, nil
}
