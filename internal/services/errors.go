package services

import (
	"errors"
	"fmt"
)

var (
	ErrQueryRejected           = errors.New("query rejected")
	ErrAccessDenied            = errors.New("access denied")
	ErrConnectionUnreachable   = errors.New("connection unreachable")
	ErrHandleAcquisitionFailed = errors.New("handle acquisition failed")
	ErrStaleTarget             = errors.New("target no longer available")
	ErrExecutionFailed         = errors.New("execution failed")
	ErrNotFound                = errors.New("not found")
	ErrInvalidTarget           = errors.New("invalid target")
)

// GatewayError carries one of the sentinel kinds above plus a caller-safe
// reason. Reasons never contain credential material.
type GatewayError struct {
	Kind   error
	Reason string
}

func (e *GatewayError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *GatewayError) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) *GatewayError {
	return &GatewayError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Reason extracts the caller-safe reason from err, falling back to its text.
func Reason(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
