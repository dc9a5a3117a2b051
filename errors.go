package xray

import (
	"errors"

	"github.com/synqronlabs/xray/trace"
)

var (
	// ErrNoOrigin is returned when no Received field names the sending host.
	ErrNoOrigin = trace.ErrNoOrigin

	ErrBadDate     = errors.New("xray: missing or malformed Date header")
	ErrNoRecipient = errors.New("xray: envelope has no recipient")
	ErrBadHeader   = errors.New("xray: malformed message header")
)

// IsFatal reports whether err prevents a report from being produced for
// the message at all, as opposed to an internal failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoOrigin) ||
		errors.Is(err, ErrBadDate) ||
		errors.Is(err, ErrNoRecipient) ||
		errors.Is(err, ErrBadHeader)
}
