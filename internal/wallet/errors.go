package wallet

import (
	"errors"
	"fmt"
)

// ErrorKind classifies signer failures.
type ErrorKind int

const (
	// KindOther is any failure that is neither a rejection nor transport.
	KindOther ErrorKind = iota
	// KindRejected means the user declined to sign.
	KindRejected
	// KindTransport means the signer could not be reached.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindTransport:
		return "transport"
	default:
		return "other"
	}
}

// SignError is returned by every Signer implementation.
type SignError struct {
	Kind ErrorKind
	Err  error
}

func (e *SignError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sign %s", e.Kind)
	}
	return fmt.Sprintf("sign %s: %v", e.Kind, e.Err)
}

func (e *SignError) Unwrap() error {
	return e.Err
}

// ErrUserRejected is the cause attached to rejections raised by the prompt.
var ErrUserRejected = errors.New("user rejected the request")

// IsRejected reports whether err carries a user rejection.
func IsRejected(err error) bool {
	var se *SignError
	return errors.As(err, &se) && se.Kind == KindRejected
}
