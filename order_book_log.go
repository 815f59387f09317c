package match

import (
	"sync"
	"time"

	"github.com/quagmt/udecimal"
)

// BookLog represents an event in the order book.
// SequenceID is a globally increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use LogType to determine if the event affects order book state:
// - Open, Match, Cancel, Amend: affect order book state
// - Reject: does not affect order book state
type BookLog struct {
	SequenceID         uint64           `json:"seq_id"`
	TradeID            uint64           `json:"trade_id,omitempty"` // Sequential trade ID, only set for Match events
	Type               LogType          `json:"type"`               // Event type: open, match, cancel, amend, reject
	MarketID           string           `json:"market_id"`
	Side               Side             `json:"side"`
	Price              udecimal.Decimal `json:"price"`
	Size               udecimal.Decimal `json:"size"`
	Amount             udecimal.Decimal `json:"amount,omitempty"` // Price * Size, only set for Match events
	OldPrice           udecimal.Decimal `json:"old_price,omitempty"`
	OldSize            udecimal.Decimal `json:"old_size,omitempty"`
	OrderID            string           `json:"order_id"`                   // Client-supplied correlation ID (Order.ClientOrderID)
	EngineOrderID      uint64           `json:"engine_order_id,omitempty"`   // Engine-assigned monotonic ID (Order.ID)
	UserID             uint64           `json:"user_id"`
	OrderType          OrderType        `json:"order_type,omitempty"` // Order type: limit, market, ioc, fok
	MakerOrderID       string           `json:"maker_order_id,omitempty"`
	MakerEngineOrderID uint64           `json:"maker_engine_order_id,omitempty"`
	MakerUserID        uint64           `json:"maker_user_id,omitempty"`
	RejectReason       RejectReason     `json:"reject_reason,omitempty"` // Reason for rejection, only set for Reject events
	CreatedAt          time.Time        `json:"created_at"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(BookLog)
	},
}

func acquireBookLog() *BookLog {
	return bookLogPool.Get().(*BookLog)
}

func releaseBookLog(log *BookLog) {
	// Reset structure to zero values.
	// For udecimal.Decimal, the zero value represents 0, which is valid.
	*log = BookLog{}
	bookLogPool.Put(log)
}

func NewOpenLog(seqID uint64, marketID string, order *Order) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeOpen
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Size
	log.OrderID = order.ClientOrderID
	log.EngineOrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.CreatedAt = time.Now().UTC()
	return log
}

func NewMatchLog(seqID uint64, tradeID uint64, marketID string, takerOrder *Order, makerOrder *Order, price udecimal.Decimal, size udecimal.Decimal) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.TradeID = tradeID
	log.Type = LogTypeMatch
	log.MarketID = marketID
	log.Side = takerOrder.Side
	log.Price = price
	log.Size = size
	log.Amount = price.Mul(size)
	log.OrderID = takerOrder.ClientOrderID
	log.EngineOrderID = takerOrder.ID
	log.UserID = takerOrder.UserID
	log.OrderType = takerOrder.Type
	log.MakerOrderID = makerOrder.ClientOrderID
	log.MakerEngineOrderID = makerOrder.ID
	log.MakerUserID = makerOrder.UserID
	log.CreatedAt = time.Now().UTC()
	return log
}

func NewCancelLog(seqID uint64, marketID string, order *Order) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeCancel
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Size
	log.OrderID = order.ClientOrderID
	log.EngineOrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.CreatedAt = time.Now().UTC()
	return log
}

func NewAmendLog(seqID uint64, marketID string, order *Order, oldPrice udecimal.Decimal, oldSize udecimal.Decimal) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeAmend
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Size
	log.OldPrice = oldPrice
	log.OldSize = oldSize
	log.OrderID = order.ClientOrderID
	log.EngineOrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.CreatedAt = time.Now().UTC()
	return log
}

// NewRejectLog builds a reject log from the order that was rejected. The order
// need not have ever entered the book; Price/Size reflect what was requested.
func NewRejectLog(seqID uint64, marketID string, order *Order, reason RejectReason) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeReject
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Size
	log.OrderID = order.ClientOrderID
	log.EngineOrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.RejectReason = reason
	log.CreatedAt = time.Now().UTC()
	return log
}
