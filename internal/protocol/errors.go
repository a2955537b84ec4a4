package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Rule/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"

	// Trade layer.
	ErrBusy       = "E_BUSY"
	ErrNoFunds    = "E_NO_FUNDS"
	ErrExpired    = "E_EXPIRED"
	ErrSettlement = "E_SETTLEMENT"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrNoResource:      {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrConflict:        {},
	ErrStale:           {},
	ErrInternal:        {},
	ErrBusy:            {},
	ErrNoFunds:         {},
	ErrExpired:         {},
	ErrSettlement:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ActionResult is the ACTION_RESULT event answering the instant with id ref.
// Unknown codes are reported as E_INTERNAL.
func ActionResult(tick uint64, ref string, ok bool, code string, message string) Event {
	if !IsKnownCode(code) {
		code = ErrInternal
	}
	e := Event{
		"t":    tick,
		"type": "ACTION_RESULT",
		"ref":  ref,
		"ok":   ok,
	}
	if code != "" {
		e["code"] = code
	}
	if message != "" {
		e["message"] = message
	}
	return e
}
