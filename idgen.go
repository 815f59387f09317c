package match

import "github.com/rs/xid"

// NewClientOrderID generates a compact, sortable, non-monotonic identifier
// suitable for client-correlation purposes (client order IDs, trace IDs).
// It is never used for the engine's own strictly monotonic order/trade
// sequencing, which relies on atomic.Uint64 counters instead.
func NewClientOrderID() string {
	return xid.New().String()
}
