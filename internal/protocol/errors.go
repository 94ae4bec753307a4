package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownType     = "E_UNKNOWN_TYPE"

	// Routing.
	ErrUnknownDestination = "E_UNKNOWN_DESTINATION"
	ErrNotRegistered      = "E_NOT_REGISTERED"

	ErrInternal = "E_INTERNAL"
)

// Reasons carried by handoff_rejected.
const (
	ReasonUnknownDestination = "unknown_destination"
	ReasonMissingPassport    = "missing_passport"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:    {},
	ErrUnknownType:        {},
	ErrUnknownDestination: {},
	ErrNotRegistered:      {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
