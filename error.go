package match

import (
	"errors"
	"fmt"

	"github.com/lumenex/matchingengine/risk"
)

var (
	ErrInsufficientLiquidity = errors.New("there is not enough depth to fill the order")
	ErrInvalidParam          = errors.New("the param is invalid")
	ErrInternal              = errors.New("internal server error")
	ErrTimeout               = errors.New("timeout")
	ErrShutdown              = errors.New("order book is shutting down")
	ErrNotFound              = errors.New("not found")
	ErrRiskDenied            = errors.New("order denied by risk gate")
	ErrQueueFull             = errors.New("ingress queue is full")
)

// RiskDeniedError wraps ErrRiskDenied with the failing check's name and
// reason, so callers can errors.As it out without string-matching.
type RiskDeniedError struct {
	Check  risk.CheckName
	Reason string
}

func (e *RiskDeniedError) Error() string {
	return fmt.Sprintf("%s: check %q: %s", ErrRiskDenied, e.Check, e.Reason)
}

func (e *RiskDeniedError) Unwrap() error {
	return ErrRiskDenied
}

func newRiskDeniedError(result risk.CheckResult) error {
	return &RiskDeniedError{Check: result.FailedCheck, Reason: result.Reason}
}
