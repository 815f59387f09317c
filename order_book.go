package match

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/lumenex/matchingengine/protocol"
	"github.com/quagmt/udecimal"
)

// AmendRequest is the internal, parsed form of protocol.AmendOrderCommand.
type AmendRequest struct {
	OrderID  string
	NewPrice udecimal.Decimal
	NewSize  udecimal.Decimal
}

// CommandType represents the type of command sent to the order book.
type CommandType int

const (
	CmdPlaceOrder CommandType = iota
	CmdCancelOrder
	CmdAmendOrder
	CmdDepth
	CmdGetStats
	CmdSnapshot
	CmdSuspendMarket
	CmdResumeMarket
	CmdUpdateConfig
	CmdRecentTrades
)

// recentTradesCapacity bounds the in-memory trade ring each book keeps for
// recent_trades(n) queries; oldest trades drop once it fills.
const recentTradesCapacity = 1000

// Command represents a unified command sent to the order book.
// It improves deterministic ordering and performance by using a single channel.
type Command struct {
	SeqID   uint64
	Type    CommandType
	Payload any
	Resp    chan any // Optional: for synchronous response (e.g. CmdDepth)
}

// OrderBookOption configures an OrderBook at construction time.
type OrderBookOption func(*OrderBook)

// WithLotSize sets the minimum order size accepted by the book.
// Orders below this size are rejected with RejectReasonInvalidPayload.
func WithLotSize(lotSize udecimal.Decimal) OrderBookOption {
	return func(b *OrderBook) {
		b.lotSize = lotSize
	}
}

// WithIDGenerators injects the counters used to assign Order.ID and
// Trade.ID. MatchingEngine wires in counters it owns and shares across
// every book it runs, so IDs stay unique and monotonic process-wide rather
// than per-instrument. A book constructed without this option (e.g. in
// tests that exercise an OrderBook directly) falls back to a private
// per-book counter.
func WithIDGenerators(nextOrderID, nextTradeID func() uint64) OrderBookOption {
	return func(b *OrderBook) {
		b.nextOrderID = nextOrderID
		b.nextTradeID = nextTradeID
	}
}

// OrderBook type
type OrderBook struct {
	marketID         string
	seqID            atomic.Uint64 // Globally increasing sequence ID for BookLog production; used by any event that generates an order book log
	lastCmdSeqID     atomic.Uint64 // Last sequence ID of the command
	nextOrderID      func() uint64 // Assigns Order.ID; engine-owned and shared across books unless standalone
	nextTradeID      func() uint64 // Assigns Trade.ID; engine-owned and shared across books unless standalone
	isShutdown       atomic.Bool
	bidQueue         *queue
	askQueue         *queue
	cmdChan          chan Command
	done             chan struct{}
	shutdownComplete chan struct{}
	publishTrader    PublishLog

	lotSize      udecimal.Decimal
	state        protocol.OrderBookState
	recentTrades []*Trade
}

// NewOrderBook creates a new order book instance.
func NewOrderBook(marketID string, publishTrader PublishLog, opts ...OrderBookOption) *OrderBook {
	book := &OrderBook{
		marketID:         marketID,
		bidQueue:         NewBuyerQueue(),
		askQueue:         NewSellerQueue(),
		cmdChan:          make(chan Command, 32768),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		publishTrader:    publishTrader,
		state:            protocol.OrderBookStateRunning,
	}

	for _, opt := range opts {
		opt(book)
	}

	if book.nextOrderID == nil {
		var localOrderID atomic.Uint64
		book.nextOrderID = func() uint64 { return localOrderID.Add(1) }
	}
	if book.nextTradeID == nil {
		var localTradeID atomic.Uint64
		book.nextTradeID = func() uint64 { return localTradeID.Add(1) }
	}

	return book
}

// PlaceOrder submits an order to the order book asynchronously.
// Returns ErrShutdown if the order book is shutting down.
func (book *OrderBook) PlaceOrder(ctx context.Context, cmd *protocol.PlaceOrderCommand) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}

	if len(cmd.OrderType) == 0 {
		return ErrInvalidParam
	}

	select {
	case book.cmdChan <- Command{Type: CmdPlaceOrder, Payload: cmd}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// AmendOrder submits a request to modify an existing order asynchronously.
func (book *OrderBook) AmendOrder(ctx context.Context, cmd *protocol.AmendOrderCommand) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}

	if len(cmd.OrderID) == 0 {
		return ErrInvalidParam
	}

	newPrice, err := udecimal.Parse(cmd.NewPrice)
	if err != nil || newPrice.LessThanOrEqual(udecimal.Zero) {
		return ErrInvalidParam
	}

	newSize, err := udecimal.Parse(cmd.NewSize)
	if err != nil || newSize.LessThanOrEqual(udecimal.Zero) {
		return ErrInvalidParam
	}

	req := &AmendRequest{OrderID: cmd.OrderID, NewPrice: newPrice, NewSize: newSize}

	select {
	case book.cmdChan <- Command{Type: CmdAmendOrder, Payload: req}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// CancelOrder submits a cancellation request for an order asynchronously.
func (book *OrderBook) CancelOrder(ctx context.Context, cmd *protocol.CancelOrderCommand) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}

	if len(cmd.OrderID) == 0 {
		return nil
	}

	select {
	case book.cmdChan <- Command{Type: CmdCancelOrder, Payload: cmd.OrderID}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// EnqueueCommand accepts a wire-level protocol.Command, decodes its payload
// with the book's own JSON codec, and dispatches it to the right handler.
// Admin commands (suspend/resume/config) mutate the book's lifecycle state;
// trading commands flow through the same PlaceOrder/AmendOrder/CancelOrder path
// used by direct callers.
func (book *OrderBook) EnqueueCommand(cmd *protocol.Command) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}

	switch cmd.Type {
	case protocol.CmdPlaceOrder:
		payload := &protocol.PlaceOrderCommand{}
		if err := json.Unmarshal(cmd.Payload, payload); err != nil {
			return ErrInvalidParam
		}
		return book.PlaceOrder(context.Background(), payload)
	case protocol.CmdAmendOrder:
		payload := &protocol.AmendOrderCommand{}
		if err := json.Unmarshal(cmd.Payload, payload); err != nil {
			return ErrInvalidParam
		}
		return book.AmendOrder(context.Background(), payload)
	case protocol.CmdCancelOrder:
		payload := &protocol.CancelOrderCommand{}
		if err := json.Unmarshal(cmd.Payload, payload); err != nil {
			return ErrInvalidParam
		}
		return book.CancelOrder(context.Background(), payload)
	case protocol.CmdSuspendMarket:
		return book.sendControlCommand(CmdSuspendMarket, nil)
	case protocol.CmdResumeMarket:
		return book.sendControlCommand(CmdResumeMarket, nil)
	case protocol.CmdUpdateConfig:
		payload := &protocol.UpdateConfigCommand{}
		if err := json.Unmarshal(cmd.Payload, payload); err != nil {
			return ErrInvalidParam
		}
		return book.sendControlCommand(CmdUpdateConfig, payload)
	default:
		return ErrInvalidParam
	}
}

func (book *OrderBook) sendControlCommand(t CommandType, payload any) error {
	select {
	case book.cmdChan <- Command{Type: t, Payload: payload}:
		return nil
	case <-time.After(time.Second):
		return ErrTimeout
	}
}

// Depth returns the current depth of the order book up to the specified limit.
func (book *OrderBook) Depth(limit uint32) (*protocol.GetDepthResponse, error) {
	if limit == 0 {
		return nil, ErrInvalidParam
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdDepth, Payload: limit, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*protocol.GetDepthResponse); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// GetStats returns usage statistics for the order book.
// It is thread-safe and interacts with the order book loop via a channel.
func (book *OrderBook) GetStats() (*protocol.GetStatsResponse, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdGetStats, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*protocol.GetStatsResponse); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// RecentTrades returns up to n of the book's most recent trades, oldest
// first. n == 0 returns the entire bounded ring.
func (book *OrderBook) RecentTrades(n uint32) ([]*Trade, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdRecentTrades, Payload: n, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.([]*Trade); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// LastCmdSeqID returns the sequence ID of the last processed command.
// This is used for snapshot recovery to know where to resume consuming from MQ.
func (book *OrderBook) LastCmdSeqID() uint64 {
	return book.lastCmdSeqID.Load()
}

// Start starts the order book loop to process orders, cancellations, and depth requests.
// Returns nil when Shutdown() is called and all pending orders are drained.
func (book *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-book.done:
			return book.drain()
		case cmd := <-book.cmdChan:
			book.dispatch(cmd)
		}
	}
}

// dispatch executes a single command against the book's mutable state.
// It is only ever called from the book's own goroutine.
func (book *OrderBook) dispatch(cmd Command) {
	switch cmd.Type {
	case CmdPlaceOrder:
		if placeCmd, ok := cmd.Payload.(*protocol.PlaceOrderCommand); ok {
			book.addOrder(placeCmd)
		}
	case CmdAmendOrder:
		if req, ok := cmd.Payload.(*AmendRequest); ok {
			book.amendOrder(req)
		}
	case CmdCancelOrder:
		if orderID, ok := cmd.Payload.(string); ok {
			book.cancelOrder(orderID)
		}
	case CmdDepth:
		if limit, ok := cmd.Payload.(uint32); ok {
			result := book.depth(limit)
			if cmd.Resp != nil {
				select {
				case cmd.Resp <- result:
				default:
				}
			}
		}
	case CmdGetStats:
		stats := book.stats()
		if cmd.Resp != nil {
			select {
			case cmd.Resp <- stats:
			default:
			}
		}
	case CmdRecentTrades:
		if n, ok := cmd.Payload.(uint32); ok {
			result := book.recentTradesSnapshot(n)
			if cmd.Resp != nil {
				select {
				case cmd.Resp <- result:
				default:
				}
			}
		}
	case CmdSnapshot:
		snap := book.createSnapshot()
		if cmd.Resp != nil {
			select {
			case cmd.Resp <- snap:
			default:
			}
		}
	case CmdSuspendMarket:
		book.state = protocol.OrderBookStateSuspended
	case CmdResumeMarket:
		book.state = protocol.OrderBookStateRunning
	case CmdUpdateConfig:
		if payload, ok := cmd.Payload.(*protocol.UpdateConfigCommand); ok && payload.MinLotSize != "" {
			if size, err := udecimal.Parse(payload.MinLotSize); err == nil {
				book.lotSize = size
			}
		}
	}

	if cmd.SeqID > 0 {
		book.lastCmdSeqID.Store(cmd.SeqID)
	}
}

// Shutdown signals the order book to stop accepting new orders and waits for all pending orders to be processed.
// The method blocks until all orders are drained or the context is cancelled/timed out.
// Returns nil if shutdown completed successfully, or ctx.Err() if the context was cancelled.
func (book *OrderBook) Shutdown(ctx context.Context) error {
	if book.isShutdown.CompareAndSwap(false, true) {
		close(book.done)
	}

	select {
	case <-book.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining state-mutating commands before returning.
func (book *OrderBook) drain() error {
	defer close(book.shutdownComplete)

	for {
		select {
		case cmd := <-book.cmdChan:
			switch cmd.Type {
			case CmdPlaceOrder, CmdAmendOrder, CmdCancelOrder, CmdSuspendMarket, CmdResumeMarket, CmdUpdateConfig:
				book.dispatch(cmd)
			case CmdDepth, CmdGetStats, CmdSnapshot, CmdRecentTrades:
				// Read-only commands, no-op during drain.
			}
		default:
			return nil
		}
	}
}

// addOrder processes the addition of an order based on its type.
func (book *OrderBook) addOrder(cmd *protocol.PlaceOrderCommand) {
	price, err := udecimal.Parse(cmd.Price)
	if err != nil && cmd.OrderType != Market {
		return
	}
	size, err2 := udecimal.Parse(cmd.Size)
	quoteSize, _ := udecimal.Parse(cmd.QuoteSize)
	if err2 != nil && cmd.QuoteSize == "" {
		return
	}

	clientOrderID := cmd.OrderID
	if clientOrderID == "" {
		clientOrderID = NewClientOrderID()
	}

	order := &Order{
		ID:            book.nextOrderID(),
		ClientOrderID: clientOrderID,
		Side:          cmd.Side,
		Price:         price,
		Size:          size,
		Type:          cmd.OrderType,
		UserID:        cmd.UserID,
		Timestamp:     cmd.Timestamp,
	}
	if order.Timestamp == 0 {
		order.Timestamp = time.Now().UnixNano()
	}

	if visible, err := udecimal.Parse(cmd.VisibleSize); err == nil && visible.IsPositive() && visible.LessThan(size) {
		order.VisibleLimit = visible
	}

	if book.state != protocol.OrderBookStateRunning {
		log := NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonMarketSuspended)
		book.publishTrader.Publish(log)
		releaseBookLog(log)
		return
	}

	if !book.lotSize.IsZero() && order.Size.LessThan(book.lotSize) {
		log := NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonInvalidPayload)
		book.publishTrader.Publish(log)
		releaseBookLog(log)
		return
	}

	var logs []*BookLog

	switch order.Type {
	case Limit:
		logs = book.handleLimitOrder(order)
	case FOK:
		logs = book.handleFOKOrder(order)
	case IOC:
		logs = book.handleIOCOrder(order)
	case PostOnly:
		logs = book.handlePostOnlyOrder(order)
	case Market:
		logs = book.handleMarketOrder(order, quoteSize)
	case Cancel:
		// Not a valid order type for placement.
	}

	if len(logs) > 0 {
		book.publishTrader.Publish(logs...)
		for _, log := range logs {
			if trade := NewTradeFromLog(log); trade != nil {
				book.pushRecentTrade(trade)
			}
			releaseBookLog(log)
		}
	}
}

// prepareIcebergSlice splits an order's total remaining size into its
// currently displayed visible slice and the hidden remainder, the moment
// before it is inserted into the book as a resting maker. Taker matching
// always happens against the full total size; only resting orders are sliced.
func prepareIcebergSlice(order *Order) {
	if order.VisibleLimit.IsZero() || order.VisibleLimit.GreaterThanOrEqual(order.Size) {
		return
	}
	order.HiddenSize = order.Size.Sub(order.VisibleLimit)
	order.Size = order.VisibleLimit
}

// replenishIceberg re-displays the next slice of a fully-consumed iceberg
// maker order. It always re-enters at the back of its price level, losing
// time priority even though the price is unchanged.
func (book *OrderBook) replenishIceberg(maker *Order, q *queue, logs *[]*BookLog) {
	if maker.HiddenSize.IsZero() {
		return
	}

	visible := maker.VisibleLimit
	if maker.HiddenSize.LessThan(visible) {
		visible = maker.HiddenSize
	}

	maker.HiddenSize = maker.HiddenSize.Sub(visible)
	maker.Size = visible
	maker.Timestamp = time.Now().UnixNano()
	q.insertOrder(maker, false)

	*logs = append(*logs, NewOpenLog(book.seqID.Add(1), book.marketID, maker))
}

// matchOnce pops the best opposing order and executes one match step against
// it. Returns true once the taker's remaining size has been fully consumed.
func (book *OrderBook) matchOnce(taker *Order, targetQueue *queue, logs *[]*BookLog) bool {
	maker := targetQueue.popHeadOrder()

	if taker.Size.GreaterThanOrEqual(maker.Size) {
		*logs = append(*logs, NewMatchLog(book.seqID.Add(1), book.nextTradeID(), book.marketID, taker, maker, maker.Price, maker.Size))
		taker.Size = taker.Size.Sub(maker.Size)
		book.replenishIceberg(maker, targetQueue, logs)
		return taker.Size.IsZero()
	}

	*logs = append(*logs, NewMatchLog(book.seqID.Add(1), book.nextTradeID(), book.marketID, taker, maker, maker.Price, taker.Size))
	maker.Size = maker.Size.Sub(taker.Size)
	targetQueue.insertOrder(maker, true)
	taker.Size = udecimal.Zero
	return true
}

// amendOrder processes the modification of an order.
func (book *OrderBook) amendOrder(req *AmendRequest) {
	var myQueue *queue
	order := book.askQueue.order(req.OrderID)
	if order != nil {
		myQueue = book.askQueue
	} else {
		order = book.bidQueue.order(req.OrderID)
		if order != nil {
			myQueue = book.bidQueue
		}
	}

	if order == nil {
		return
	}

	oldPrice := order.Price
	oldVisibleSize := order.Size
	oldTotal := order.Size.Add(order.HiddenSize)

	// Scenario 1: Price changed OR total size increased -> priority lost.
	if !oldPrice.Equal(req.NewPrice) || req.NewSize.GreaterThan(oldTotal) {
		myQueue.removeOrder(oldPrice, req.OrderID)

		order.Price = req.NewPrice
		order.Size = req.NewSize
		order.HiddenSize = udecimal.Zero
		order.Timestamp = time.Now().UnixNano()
		prepareIcebergSlice(order)

		book.publishTrader.Publish(NewAmendLog(book.seqID.Add(1), book.marketID, order, oldPrice, oldVisibleSize))

		var logs []*BookLog
		switch order.Type {
		case PostOnly:
			logs = book.handlePostOnlyOrder(order)
		default:
			logs = book.handleLimitOrder(order)
		}

		if len(logs) > 0 {
			book.publishTrader.Publish(logs...)
			for _, log := range logs {
				if trade := NewTradeFromLog(log); trade != nil {
					book.pushRecentTrade(trade)
				}
				releaseBookLog(log)
			}
		}

		return
	}

	// Scenario 2: Price unchanged AND total size decreased -> priority kept (update in place).
	if req.NewSize.LessThan(oldTotal) {
		delta := oldTotal.Sub(req.NewSize)
		hiddenCut := delta
		if hiddenCut.GreaterThan(order.HiddenSize) {
			hiddenCut = order.HiddenSize
		}
		order.HiddenSize = order.HiddenSize.Sub(hiddenCut)
		delta = delta.Sub(hiddenCut)

		if delta.IsPositive() {
			newVisible := order.Size.Sub(delta)
			myQueue.updateOrderSize(req.OrderID, newVisible)
		}
	}

	book.publishTrader.Publish(NewAmendLog(book.seqID.Add(1), book.marketID, order, oldPrice, oldVisibleSize))
}

// cancelOrder processes the cancellation of an order.
func (book *OrderBook) cancelOrder(id string) {
	order := book.askQueue.order(id)
	if order != nil {
		book.askQueue.removeOrder(order.Price, id)
		book.publishTrader.Publish(NewCancelLog(book.seqID.Add(1), book.marketID, order))
		return
	}

	order = book.bidQueue.order(id)
	if order != nil {
		book.bidQueue.removeOrder(order.Price, id)
		book.publishTrader.Publish(NewCancelLog(book.seqID.Add(1), book.marketID, order))
	}
}

// depth returns the snapshot of the order book depth.
func (book *OrderBook) depth(limit uint32) *protocol.GetDepthResponse {
	return &protocol.GetDepthResponse{
		UpdateID: book.seqID.Load(),
		Asks:     toProtoDepth(book.askQueue.depth(limit)),
		Bids:     toProtoDepth(book.bidQueue.depth(limit)),
	}
}

func toProtoDepth(items []*DepthItem) []*protocol.DepthItem {
	out := make([]*protocol.DepthItem, 0, len(items))
	for _, it := range items {
		out = append(out, &protocol.DepthItem{
			Price: it.Price.String(),
			Size:  it.Size.String(),
			Count: it.Count,
		})
	}
	return out
}

// stats gathers order book statistics, including a top-of-book read from the
// LLRB price index mirrored alongside each queue.
func (book *OrderBook) stats() *protocol.GetStatsResponse {
	s := &protocol.GetStatsResponse{
		AskDepthCount: book.askQueue.depthCount(),
		AskOrderCount: book.askQueue.orderCount(),
		BidDepthCount: book.bidQueue.depthCount(),
		BidOrderCount: book.bidQueue.orderCount(),
	}
	bid, hasBid := book.bidQueue.bestPrice()
	if hasBid {
		s.BestBid = bid.String()
	}
	ask, hasAsk := book.askQueue.bestPrice()
	if hasAsk {
		s.BestAsk = ask.String()
	}
	if hasBid && hasAsk {
		s.Spread = ask.Sub(bid).String()
	}
	return s
}

// pushRecentTrade appends a trade to the book's bounded recent-trades
// ring, dropping the oldest entry once it exceeds recentTradesCapacity.
// Only ever called from the book's own goroutine.
func (book *OrderBook) pushRecentTrade(t *Trade) {
	book.recentTrades = append(book.recentTrades, t)
	if len(book.recentTrades) > recentTradesCapacity {
		book.recentTrades = book.recentTrades[len(book.recentTrades)-recentTradesCapacity:]
	}
}

// recentTradesSnapshot returns a copy of the last n trades, oldest first.
// n == 0 returns the entire ring.
func (book *OrderBook) recentTradesSnapshot(n uint32) []*Trade {
	total := len(book.recentTrades)
	if n == 0 || int(n) > total {
		n = uint32(total)
	}
	start := total - int(n)
	out := make([]*Trade, int(n))
	copy(out, book.recentTrades[start:])
	return out
}

// handleLimitOrder handles Limit orders. It matches against the opposite queue and adds the remaining size to the book.
func (book *OrderBook) handleLimitOrder(order *Order) []*BookLog {
	var myQueue, targetQueue *queue
	if order.Side == Buy {
		myQueue, targetQueue = book.bidQueue, book.askQueue
	} else {
		myQueue, targetQueue = book.askQueue, book.bidQueue
	}

	logs := make([]*BookLog, 0, 8)

	for {
		tOrd := targetQueue.peekHeadOrder()

		if tOrd == nil || (order.Side == Buy && order.Price.LessThan(tOrd.Price)) ||
			(order.Side == Sell && order.Price.GreaterThan(tOrd.Price)) {
			prepareIcebergSlice(order)
			myQueue.insertOrder(order, false)
			logs = append(logs, NewOpenLog(book.seqID.Add(1), book.marketID, order))
			return logs
		}

		if book.matchOnce(order, targetQueue, &logs) {
			return logs
		}
	}
}

// handleIOCOrder handles Immediate Or Cancel orders. It matches as much as possible and cancels the rest.
func (book *OrderBook) handleIOCOrder(order *Order) []*BookLog {
	targetQueue := book.askQueue
	if order.Side == Sell {
		targetQueue = book.bidQueue
	}

	logs := make([]*BookLog, 0, 8)

	for {
		tOrd := targetQueue.peekHeadOrder()

		if tOrd == nil {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonNoLiquidity))
			return logs
		}

		if (order.Side == Buy && order.Price.LessThan(tOrd.Price)) ||
			(order.Side == Sell && order.Price.GreaterThan(tOrd.Price)) {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonPriceMismatch))
			return logs
		}

		if book.matchOnce(order, targetQueue, &logs) {
			return logs
		}
	}
}

// handleFOKOrder handles Fill Or Kill orders. It checks if the order can be fully filled before matching.
func (book *OrderBook) handleFOKOrder(order *Order) []*BookLog {
	targetQueue := book.askQueue
	if order.Side == Sell {
		targetQueue = book.bidQueue
	}

	logs := make([]*BookLog, 0, 8)

	// Phase 1: validate the order can be fully filled using visible liquidity only,
	// without mutating any queue state.
	el := targetQueue.depthList.Front()
	remaining := order.Size

	for remaining.IsPositive() {
		if el == nil {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonInsufficientSize))
			return logs
		}

		unit, _ := el.Value.(*priceUnit)

		if (order.Side == Buy && order.Price.LessThan(unit.head.Price)) ||
			(order.Side == Sell && order.Price.GreaterThan(unit.head.Price)) {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonPriceMismatch))
			return logs
		}

		remaining = remaining.Sub(unit.totalSize)
		el = el.Next()
	}

	// Phase 2: liquidity was proven sufficient above, so this loop always completes.
	for {
		if book.matchOnce(order, targetQueue, &logs) {
			return logs
		}
	}
}

// handlePostOnlyOrder handles Post Only orders. It ensures the order is added to the book without matching immediately.
func (book *OrderBook) handlePostOnlyOrder(order *Order) []*BookLog {
	var myQueue, targetQueue *queue
	if order.Side == Buy {
		myQueue, targetQueue = book.bidQueue, book.askQueue
	} else {
		myQueue, targetQueue = book.askQueue, book.bidQueue
	}

	logs := make([]*BookLog, 0, 1)

	tOrd := targetQueue.peekHeadOrder()

	if tOrd == nil || (order.Side == Buy && order.Price.LessThan(tOrd.Price)) ||
		(order.Side == Sell && order.Price.GreaterThan(tOrd.Price)) {
		prepareIcebergSlice(order)
		myQueue.insertOrder(order, false)
		logs = append(logs, NewOpenLog(book.seqID.Add(1), book.marketID, order))
		return logs
	}

	logs = append(logs, NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonPostOnlyMatch))
	return logs
}

// handleMarketOrder handles Market orders. It matches against the best available prices until filled or liquidity is exhausted.
// If quoteSize is set (and Size is zero), the order is filled by quote currency amount.
// If Size is set (and quoteSize is zero), the order is filled by base currency quantity.
func (book *OrderBook) handleMarketOrder(order *Order, quoteSize udecimal.Decimal) []*BookLog {
	targetQueue := book.askQueue
	if order.Side == Sell {
		targetQueue = book.bidQueue
	}

	logs := make([]*BookLog, 0, 8)

	useQuoteSize := quoteSize.IsPositive() && order.Size.IsZero()
	remainingQuote := quoteSize
	remainingBase := order.Size

	for {
		tOrd := targetQueue.popHeadOrder()

		if tOrd == nil {
			remaining := remainingBase
			if useQuoteSize {
				remaining = remainingQuote
			}
			order.Size = remaining
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.marketID, order, RejectReasonNoLiquidity))
			return logs
		}

		if useQuoteSize {
			amount := tOrd.Price.Mul(tOrd.Size)

			if remainingQuote.GreaterThanOrEqual(amount) {
				logs = append(logs, NewMatchLog(book.seqID.Add(1), book.nextTradeID(), book.marketID, order, tOrd, tOrd.Price, tOrd.Size))
				book.replenishIceberg(tOrd, targetQueue, &logs)
				remainingQuote = remainingQuote.Sub(amount)
				if remainingQuote.IsZero() {
					break
				}
				continue
			}

			tSize := remainingQuote.Div(tOrd.Price)
			logs = append(logs, NewMatchLog(book.seqID.Add(1), book.nextTradeID(), book.marketID, order, tOrd, tOrd.Price, tSize))
			tOrd.Size = tOrd.Size.Sub(tSize)
			targetQueue.insertOrder(tOrd, true)
			break
		}

		if remainingBase.GreaterThanOrEqual(tOrd.Size) {
			logs = append(logs, NewMatchLog(book.seqID.Add(1), book.nextTradeID(), book.marketID, order, tOrd, tOrd.Price, tOrd.Size))
			book.replenishIceberg(tOrd, targetQueue, &logs)
			remainingBase = remainingBase.Sub(tOrd.Size)
			if remainingBase.IsZero() {
				break
			}
			continue
		}

		logs = append(logs, NewMatchLog(book.seqID.Add(1), book.nextTradeID(), book.marketID, order, tOrd, tOrd.Price, remainingBase))
		tOrd.Size = tOrd.Size.Sub(remainingBase)
		targetQueue.insertOrder(tOrd, true)
		break
	}

	return logs
}

// createSnapshot creates a snapshot of the current order book state.
// This method is called from the order book loop (via CmdSnapshot), so it's thread-safe with respect to order processing.
func (book *OrderBook) createSnapshot() *OrderBookSnapshot {
	snap := &OrderBookSnapshot{
		MarketID:     book.marketID,
		SeqID:        book.seqID.Load(),
		LastCmdSeqID: book.lastCmdSeqID.Load(),
		State:        book.state,
		Bids:         make([]*Order, 0),
		Asks:         make([]*Order, 0),
	}
	if !book.lotSize.IsZero() {
		snap.LotSize = book.lotSize.String()
	}

	bids := book.bidQueue.toSnapshot()
	for i := range bids {
		snap.Bids = append(snap.Bids, &bids[i])
	}

	asks := book.askQueue.toSnapshot()
	for i := range asks {
		snap.Asks = append(snap.Asks, &asks[i])
	}

	return snap
}

// Restore restores the order book state from a snapshot.
// It resets the current state and rebuilds the order book from the snapshot data.
func (book *OrderBook) Restore(snap *OrderBookSnapshot) {
	book.seqID.Store(snap.SeqID)
	book.lastCmdSeqID.Store(snap.LastCmdSeqID)
	book.state = snap.State
	if snap.LotSize != "" {
		if size, err := udecimal.Parse(snap.LotSize); err == nil {
			book.lotSize = size
		}
	}

	book.bidQueue = NewBuyerQueue()
	book.askQueue = NewSellerQueue()

	restoreOrders := func(orders []*Order, q *queue) {
		for _, o := range orders {
			q.insertOrder(o, false)
		}
	}

	restoreOrders(snap.Bids, book.bidQueue)
	restoreOrders(snap.Asks, book.askQueue)
}

// TakeSnapshot captures the current state of the order book.
// It is thread-safe and interacts with the order book loop via a channel.
func (book *OrderBook) TakeSnapshot() (*OrderBookSnapshot, error) {
	respChan := make(chan any, 1)
	cmd := Command{
		Type: CmdSnapshot,
		Resp: respChan,
	}

	select {
	case book.cmdChan <- cmd:
		select {
		case res := <-respChan:
			if snap, ok := res.(*OrderBookSnapshot); ok {
				return snap, nil
			}
			return nil, errors.New("unexpected response type for snapshot")
		case <-time.After(5 * time.Second):
			return nil, ErrTimeout
		}
	case <-book.done:
		return nil, ErrShutdown
	case <-time.After(1 * time.Second):
		return nil, ErrTimeout
	}
}
