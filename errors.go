package bookstore

import (
	"context"
	"fmt"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/pingcap/errors"
)

// Errors raised by the query runner.
var (
	ErrConnectStore = errors.Normalize(
		"connect to document store failed: %s",
		errors.RFCCodeText("BOOKSTORE:ErrConnectStore"),
	)
	ErrCloseStore = errors.Normalize(
		"close document store failed",
		errors.RFCCodeText("BOOKSTORE:ErrCloseStore"),
	)
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("BOOKSTORE:ErrInvalidConfig"),
	)
	ErrDecodeConfig = errors.Normalize(
		"decode config file %s failed",
		errors.RFCCodeText("BOOKSTORE:ErrDecodeConfig"),
	)
	ErrUnexpectedResult = errors.Normalize(
		"unexpected result: %s",
		errors.RFCCodeText("BOOKSTORE:ErrUnexpectedResult"),
	)
	ErrSeedFailed = errors.Normalize(
		"seed failed after %d documents",
		errors.RFCCodeText("BOOKSTORE:ErrSeedFailed"),
	)
)

// WrapError wraps err with rfcError and renders the message with args.
// It returns nil when err is nil.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

// RFCCode returns the outermost RFC error code in err's chain, if any.
func RFCCode(err error) (errors.RFCErrorCode, bool) {
	type rfcCoder interface {
		RFCCode() errors.RFCErrorCode
	}
	for err != nil {
		if terr, ok := err.(rfcCoder); ok {
			return terr.RFCCode(), true
		}
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		case interface{ Cause() error }:
			err = e.Cause()
		default:
			return "", false
		}
	}
	return "", false
}

// FailureKind separates failures a caller may want to treat differently.
type FailureKind int

const (
	// FailureStore is a store-side failure for an otherwise valid request.
	FailureStore FailureKind = iota
	// FailureConnection means the store could not be reached or went away.
	FailureConnection
	// FailureValidation means the request was rejected as malformed.
	FailureValidation
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnection:
		return "connection"
	case FailureValidation:
		return "validation"
	default:
		return "store"
	}
}

// ClassifyError maps an error returned by a docstore backend to a FailureKind.
func ClassifyError(err error) FailureKind {
	switch errors.Cause(err) {
	case docstore.ErrUnavailable, docstore.ErrStoreClosed, context.DeadlineExceeded, context.Canceled:
		return FailureConnection
	case docstore.ErrInvalidQuery, docstore.ErrUnsupportedOperator, docstore.ErrInvalidUpdate,
		docstore.ErrInvalidProjection, docstore.ErrInvalidPipeline, docstore.ErrEmptyIndex,
		docstore.ErrInvalidDocument:
		return FailureValidation
	}
	return FailureStore
}

// OperationError reports which operation failed and how.
type OperationError struct {
	Index   int
	Name    string
	OpKind  Kind
	Failure FailureKind
	Err     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s, %s) failed with %s error: %v",
		e.Index, e.Name, e.OpKind, e.Failure, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through to the backend error.
func (e *OperationError) Cause() error { return e.Err }
