package domain

import "errors"

// Validation errors for incoming trades. Each one doubles as a rejection reason.
var (
	ErrEmptyToken        = errors.New("empty token")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidSize       = errors.New("invalid size")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrUnknownResolution = errors.New("unknown resolution")
)

// RejectReason maps a validation error to a short metric label.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyToken):
		return "empty_token"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrInvalidSize):
		return "invalid_size"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	default:
		return "other"
	}
}
