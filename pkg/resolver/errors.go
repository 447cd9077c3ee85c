package resolver

import (
	"errors"
	"fmt"
)

// ErrInvalidWaitConfiguration is the parent of every validation failure
// raised at wait creation time. All subtypes wrap it, so callers can
// branch on the family with errors.Is and still inspect the specific
// cause.
var ErrInvalidWaitConfiguration = errors.New("invalid wait configuration")

var (
	ErrUnknownWaitType    = fmt.Errorf("%w: unknown wait type", ErrInvalidWaitConfiguration)
	ErrMalformedConfig    = fmt.Errorf("%w: malformed config", ErrInvalidWaitConfiguration)
	ErrDurationOutOfRange = fmt.Errorf("%w: duration out of range", ErrInvalidWaitConfiguration)
	ErrDateOutOfRange     = fmt.Errorf("%w: date out of range", ErrInvalidWaitConfiguration)
	ErrMalformedDate      = fmt.Errorf("%w: malformed date", ErrInvalidWaitConfiguration)
	ErrMalformedTimeOfDay = fmt.Errorf("%w: malformed time of day", ErrInvalidWaitConfiguration)
	ErrUnknownTimezone    = fmt.Errorf("%w: unknown timezone", ErrInvalidWaitConfiguration)
	ErrUnknownEventType   = fmt.Errorf("%w: unknown event type", ErrInvalidWaitConfiguration)
)

// IsInvalidWaitConfiguration checks whether an error belongs to the
// validation family.
func IsInvalidWaitConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidWaitConfiguration)
}
