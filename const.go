package match

import "github.com/lumenex/matchingengine/protocol"

const (
	// EngineVersion is the current version of the matching engine
	EngineVersion = "v1.0.0"

	// SnapshotSchemaVersion is the current version of the snapshot schema
	// Increment this when the snapshot format changes in a backward-incompatible way
	SnapshotSchemaVersion = 1
)

type LogType = protocol.LogType

const (
	LogTypeOpen   LogType = protocol.LogTypeOpen
	LogTypeMatch  LogType = protocol.LogTypeMatch
	LogTypeCancel LogType = protocol.LogTypeCancel
	LogTypeAmend  LogType = protocol.LogTypeAmend
	LogTypeReject LogType = protocol.LogTypeReject
)

type RejectReason = protocol.RejectReason

const (
	RejectReasonNone             RejectReason = protocol.RejectReasonNone
	RejectReasonNoLiquidity      RejectReason = protocol.RejectReasonNoLiquidity
	RejectReasonPriceMismatch    RejectReason = protocol.RejectReasonPriceMismatch
	RejectReasonInsufficientSize RejectReason = protocol.RejectReasonInsufficientSize
	RejectReasonPostOnlyMatch    RejectReason = protocol.RejectReasonPostOnlyMatch
	RejectReasonDuplicateID      RejectReason = protocol.RejectReasonDuplicateID
	RejectReasonOrderNotFound    RejectReason = protocol.RejectReasonOrderNotFound
	RejectReasonInvalidPayload   RejectReason = protocol.RejectReasonInvalidPayload
	RejectReasonMarketSuspended  RejectReason = protocol.RejectReasonMarketSuspended
)
