package protocol

import (
	"fmt"
	"strings"
)

// LegacyRequestKind identifies the shape of a parsed legacy REQ/REP line.
type LegacyRequestKind string

const (
	LegacyRequestOrder LegacyRequestKind = "order"
	LegacyRequestPrint LegacyRequestKind = "print"
	LegacyRequestExit  LegacyRequestKind = "exit"
)

// LegacyRequest is the parsed form of one line of the legacy text protocol.
// It carries no network code; a REQ/REP transport adapter (out of scope)
// is expected to read a line, call ParseLegacyRequest, and act on the result.
type LegacyRequest struct {
	Kind  LegacyRequestKind
	Side  Side
	Price string
	Qty   string
}

// ParseLegacyRequest parses one line of the legacy text protocol:
//
//	"B <price> <qty>"  - place a buy limit order
//	"S <price> <qty>"  - place a sell limit order
//	"print"            - dump the current book
//	"exit"             - close the session
func ParseLegacyRequest(line string) (*LegacyRequest, error) {
	trimmed := strings.TrimSpace(line)

	switch trimmed {
	case "print":
		return &LegacyRequest{Kind: LegacyRequestPrint}, nil
	case "exit":
		return &LegacyRequest{Kind: LegacyRequestExit}, nil
	}

	fields := strings.Fields(trimmed)
	if len(fields) != 3 {
		return nil, fmt.Errorf("textproto: malformed request %q", line)
	}

	var side Side
	switch strings.ToUpper(fields[0]) {
	case "B":
		side = SideBuy
	case "S":
		side = SideSell
	default:
		return nil, fmt.Errorf("textproto: unknown side %q", fields[0])
	}

	return &LegacyRequest{Kind: LegacyRequestOrder, Side: side, Price: fields[1], Qty: fields[2]}, nil
}

// FormatLegacyReply renders the result of a legacy order request back into
// the same line-oriented framing. filled reports whether any quantity
// matched; price/qty describe the resulting order (its resting price/size
// for a non-terminal order, or the last traded price/size for a fill).
func FormatLegacyReply(filled bool, price, qty string) string {
	if filled {
		return fmt.Sprintf("FILLED %s %s", price, qty)
	}
	return fmt.Sprintf("OPEN %s %s", price, qty)
}

// FormatLegacyError renders a rejection back into the legacy line framing.
func FormatLegacyError(reason string) string {
	return "ERROR " + reason
}
