package serrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	sentinel := NewError("SYNC_NETWORK", "backend unreachable", "")
	wrapped := fmt.Errorf("create case: %w", sentinel.WithTemplateData(map[string]string{"case": "offline_1"}))

	require.ErrorIs(t, wrapped, sentinel)
	require.Equal(t, "SYNC_NETWORK", Code(wrapped))
}

func TestBaseError_DistinctCodesDoNotMatch(t *testing.T) {
	t.Parallel()

	a := NewError("A", "a", "")
	b := NewError("B", "b", "")
	require.NotErrorIs(t, fmt.Errorf("wrap: %w", a), b)
}

func TestCode_PlainError(t *testing.T) {
	t.Parallel()

	require.Empty(t, Code(errors.New("plain")))
}

func TestWithTemplateData_DoesNotMutateSentinel(t *testing.T) {
	t.Parallel()

	sentinel := NewError("X", "x", "")
	_ = sentinel.WithTemplateData(map[string]string{"k": "v"})
	require.Nil(t, sentinel.TemplateData)
}
