package cases

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureUnknown},
		{"deadline", context.DeadlineExceeded, FailureNetwork},
		{"canceled", context.Canceled, FailureNetwork},
		{"net timeout", timeoutErr{}, FailureNetwork},
		{"wrapped net timeout", errors.Join(errors.New("dispatch"), timeoutErr{}), FailureNetwork},
		{"pg connection", &pgconn.PgError{Code: "08006"}, FailureNetwork},
		{"pg resources", &pgconn.PgError{Code: "53300"}, FailureNetwork},
		{"pg shutdown", &pgconn.PgError{Code: "57P01"}, FailureNetwork},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, FailureNetwork},
		{"pg unique", &pgconn.PgError{Code: "23505"}, FailureConflict},
		{"pg check", &pgconn.PgError{Code: "23514"}, FailureValidation},
		{"pg data", &pgconn.PgError{Code: "22001"}, FailureValidation},
		{"pg syntax", &pgconn.PgError{Code: "42703"}, FailureValidation},
		{"already amended", ErrAlreadyAmended, FailureConflict},
		{"empty amendment", ErrEmptyAmendment, FailureValidation},
		{"plain", errors.New("boom"), FailureUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(timeoutErr{}))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "08001"}))
	require.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsRetryable(errors.New("boom")))
	require.False(t, IsRetryable(nil))
}

func TestReferenceHelpers(t *testing.T) {
	require.Equal(t, "TMC-SG-000042", FormatReference("TMC", " sg ", 42))

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	ref := NewProvisionalReference(now)
	require.True(t, IsProvisionalReference(ref))
	require.False(t, IsProvisionalReference("TMC-SG-000001"))

	id := NewProvisionalID()
	require.True(t, IsProvisionalID(id))
	require.False(t, IsProvisionalID("42"))
	require.NotEqual(t, NewProvisionalID(), id)
}

func TestStatusSet(t *testing.T) {
	require.True(t, StatusBooked.IsValid())
	require.True(t, StatusCaseClosed.IsTerminal())
	require.True(t, StatusCaseCancelled.IsTerminal())
	require.False(t, StatusBooked.IsTerminal())
	require.False(t, Status("Shipped").IsValid())
}
