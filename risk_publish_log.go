package match

import (
	"strconv"

	"github.com/lumenex/matchingengine/risk"
)

// RiskObservingPublishLog decorates a PublishLog, feeding every match event
// into a risk.Gate before forwarding the logs unchanged to the wrapped
// publisher. This is how the gate's position, daily-volume, and reference
// price state stay current with real fills instead of only ever being
// driven manually in tests.
type RiskObservingPublishLog struct {
	next PublishLog
	gate *risk.Gate
}

// NewRiskObservingPublishLog wraps next so every match updates gate.
func NewRiskObservingPublishLog(next PublishLog, gate *risk.Gate) *RiskObservingPublishLog {
	return &RiskObservingPublishLog{next: next, gate: gate}
}

// Publish observes each match event synchronously, per PublishLog's
// contract that implementations must read BookLog data before returning,
// then forwards every log to the wrapped publisher.
func (r *RiskObservingPublishLog) Publish(logs ...*BookLog) {
	for _, log := range logs {
		if trade := NewTradeFromLog(log); trade != nil {
			r.observe(trade)
		}
	}
	r.next.Publish(logs...)
}

func (r *RiskObservingPublishLog) observe(trade *Trade) {
	buyAccount := strconv.FormatUint(trade.BuyUserID, 10)
	sellAccount := strconv.FormatUint(trade.SellUserID, 10)

	r.gate.UpdatePosition(buyAccount, trade.MarketID, risk.Buy, trade.Size)
	r.gate.UpdatePosition(sellAccount, trade.MarketID, risk.Sell, trade.Size)

	r.gate.UpdateDailyVolume(buyAccount, trade.Size)
	r.gate.UpdateDailyVolume(sellAccount, trade.Size)

	r.gate.SetReferencePrice(trade.MarketID, trade.Price)
	r.gate.ObserveTradeVolume(trade.MarketID, trade.Size)
}
