// Package failure defines the error taxonomy shared by the pipeline stages.
//
// Every stage reports failures as *Error values tagged with a Kind. The
// pipeline inspects the kind to pick the next-safer strategy (classical
// upscale, focal-point crop, placeholder) instead of surfacing the error.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindDecode             Kind = "decode_failure"
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindTimeout            Kind = "timeout_failure"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindModelUnavailable   Kind = "model_unavailable"
	KindEncode             Kind = "encode_failure"
	KindUnknown            Kind = "unknown"
)

// Error is a classified failure. Op names the operation that failed
// (e.g. "tiff.native", "upscale.tile").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation name. Context deadline errors are
// always classified as timeouts regardless of the kind passed in.
func New(kind Kind, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message as the underlying error.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
// Bare context deadline errors report KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsDecode reports whether err is a DecodeFailure.
func IsDecode(err error) bool { return KindOf(err) == KindDecode }

// IsUnsupportedFormat reports whether err is an UnsupportedFormat failure.
func IsUnsupportedFormat(err error) bool { return KindOf(err) == KindUnsupportedFormat }

// IsTimeout reports whether err is a TimeoutFailure.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsResourceExhaustion reports whether err is a ResourceExhaustion failure.
func IsResourceExhaustion(err error) bool { return KindOf(err) == KindResourceExhaustion }

// IsModelUnavailable reports whether err is a ModelUnavailable failure.
func IsModelUnavailable(err error) bool { return KindOf(err) == KindModelUnavailable }

// IsEncode reports whether err is an EncodeFailure.
func IsEncode(err error) bool { return KindOf(err) == KindEncode }
