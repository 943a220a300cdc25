package consolidator

import (
	"errors"
	"fmt"

	"github.com/rovshanmuradov/solana-sweeper/internal/executor"
)

// ErrBusy is returned when an operation is requested in a state that does not allow it.
var ErrBusy = errors.New("session busy")

// CancelledError means the user rejected a signature. Work confirmed before
// the rejection stays applied and is described by Report.
type CancelledError struct {
	Report *Report
}

func (e *CancelledError) Error() string {
	if e.Report == nil {
		return "cancelled by user"
	}
	return fmt.Sprintf("%s cancelled by user after %d succeeded", e.Report.Operation, e.Report.Succeeded)
}

func (e *CancelledError) Unwrap() error {
	return executor.ErrCancelled
}

// OperationError wraps any other failure of a scan, reclaim or convert.
type OperationError struct {
	Operation string
	Report    *Report
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
