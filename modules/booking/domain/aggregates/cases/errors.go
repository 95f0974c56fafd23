package cases

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medtrail/casesync/pkg/serrors"
)

var (
	ErrCaseNotFound = serrors.NewError("CASE_NOT_FOUND", "case not found", "cases.errors.notFound")

	// ErrAlreadyAmended rejects a second amendment without override.
	ErrAlreadyAmended = serrors.NewError("CASE_ALREADY_AMENDED", "case has already been amended", "cases.errors.alreadyAmended")
	// ErrEmptyAmendment rejects a patch that changes nothing.
	ErrEmptyAmendment = serrors.NewError("CASE_EMPTY_AMENDMENT", "amendment changes no fields", "cases.errors.emptyAmendment")
	ErrUnknownStatus  = serrors.NewError("CASE_UNKNOWN_STATUS", "unknown case status", "cases.errors.unknownStatus")
)

// FailureKind buckets a backend error for the offline flow. Only network
// failures are worth queueing and retrying; everything else is surfaced to
// the caller immediately.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureNetwork
	FailureValidation
	FailureConflict
)

// Classify buckets err. Unrecognized errors land in FailureUnknown and are
// treated as non-retryable.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	switch {
	case errors.Is(err, ErrAlreadyAmended):
		return FailureConflict
	case errors.Is(err, ErrEmptyAmendment), errors.Is(err, ErrUnknownStatus):
		return FailureValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return FailureNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return FailureNetwork
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	return FailureUnknown
}

// classifySQLState maps postgres error classes. Connection exceptions (08),
// insufficient resources (53), operator intervention (57), serialization
// failures and deadlocks retry; unique violations conflict; the rest of the
// data and integrity classes are the caller's fault.
func classifySQLState(code string) FailureKind {
	switch {
	case strings.HasPrefix(code, "08"),
		strings.HasPrefix(code, "53"),
		strings.HasPrefix(code, "57"),
		code == "40001", code == "40P01":
		return FailureNetwork
	case code == "23505":
		return FailureConflict
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"), strings.HasPrefix(code, "42"):
		return FailureValidation
	default:
		return FailureUnknown
	}
}

// IsRetryable reports whether err is worth enqueueing for later replay.
func IsRetryable(err error) bool {
	return Classify(err) == FailureNetwork
}
