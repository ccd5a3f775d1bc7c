package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned before parsing when no decoder is
	// registered for a file extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrOutOfRange is returned when a bit field reaches past the payload.
	ErrOutOfRange = errors.New("bit field out of range")

	ErrBadSignature    = errors.New("bad signature")
	ErrTruncated       = errors.New("truncated input")
	ErrUnsupportedData = errors.New("unsupported structure")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLimit    = errors.New("session limit reached")
	ErrSignalNotFound  = errors.New("signal not found")
	ErrNoDatabase      = errors.New("no database loaded")
	ErrNoTrace         = errors.New("no trace loaded")
	ErrEmptyFile       = errors.New("empty file")
)

// ErrorKind classifies decode failures.
type ErrorKind uint8

const (
	KindStructural ErrorKind = iota + 1
	KindUnsupported
	KindOutOfRange
)

func (k ErrorKind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindUnsupported:
		return "unsupported"
	case KindOutOfRange:
		return "out of range"
	default:
		return "unknown"
	}
}

// DecodeError reports where a decoder stopped. Decoders return it together
// with whatever they decoded up to Offset, so it is a diagnostic rather than
// a reason to discard the result.
type DecodeError struct {
	Format string
	Kind   ErrorKind
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %s error at offset %d: %v", e.Format, e.Kind, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsPartial reports whether err only marks an early stop of a decoder.
func IsPartial(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
