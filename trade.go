package match

import (
	"time"

	"github.com/quagmt/udecimal"
)

// Trade is the public record of one match, derived from a BookLog of
// LogTypeMatch. Unlike BookLog, which records the taker's perspective plus
// an asymmetric maker UserID for the hot event-sourcing path, Trade always
// carries both counterparty user IDs explicitly so downstream consumers
// never have to re-derive which side bought and which sold.
type Trade struct {
	ID         uint64           `json:"id"`
	MarketID   string           `json:"market_id"`
	Price      udecimal.Decimal `json:"price"`
	Size       udecimal.Decimal `json:"size"`
	BuyUserID  uint64           `json:"buy_user_id"`
	SellUserID uint64           `json:"sell_user_id"`
	TakerSide  Side             `json:"taker_side"`
	CreatedAt  time.Time        `json:"created_at"`
}

// NewTradeFromLog derives a Trade from a match BookLog. log.Side records
// the taker's side; the maker is always the opposite side, so the
// taker/maker UserIDs can be assigned to buyer/seller unambiguously.
// Returns nil if log is not a match event.
func NewTradeFromLog(log *BookLog) *Trade {
	if log.Type != LogTypeMatch {
		return nil
	}

	trade := &Trade{
		ID:        log.TradeID,
		MarketID:  log.MarketID,
		Price:     log.Price,
		Size:      log.Size,
		TakerSide: log.Side,
		CreatedAt: log.CreatedAt,
	}

	if log.Side == Buy {
		trade.BuyUserID = log.UserID
		trade.SellUserID = log.MakerUserID
	} else {
		trade.BuyUserID = log.MakerUserID
		trade.SellUserID = log.UserID
	}

	return trade
}
