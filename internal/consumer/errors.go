// Package consumer holds the message handlers of the pipeline. Handlers are
// transport-agnostic: they take a payload, touch their collaborators through
// narrow interfaces, and classify failures as transient or permanent.
package consumer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error { return e.cause }

// Permanent marks an error as one that redelivery cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}

var (
	// ErrUnsupportedType marks an upload whose key is not an accepted image.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrMalformed marks a payload that cannot be decoded.
	ErrMalformed = errors.New("malformed message")
)

// RejectedError lists the object keys of a notification that ingestion
// refused. Keys are decoded where possible and raw otherwise.
type RejectedError struct {
	Keys []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupportedType, strings.Join(e.Keys, ", "))
}

func (e *RejectedError) Unwrap() error { return ErrUnsupportedType }

// RejectedKeys returns the keys carried by a RejectedError in err's chain.
func RejectedKeys(err error) []string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Keys
	}
	return nil
}

func componentLogger(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
