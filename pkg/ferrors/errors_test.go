package ferrors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/ferrors"
)

func TestErrorFormatting(t *testing.T) {
	err := ferrors.New(ferrors.NotFound, "device missing")
	assert.Equal(t, "not-found: device missing", err.Error())

	withDetails := ferrors.New(ferrors.Timeout, "write failed", "no ack after 5s")
	assert.Equal(t, "timeout: write failed: no ack after 5s", withDetails.Error())
}

func TestIsUnwrapsWrappedErrors(t *testing.T) {
	base := ferrors.New(ferrors.Busy, "device locked")
	wrapped := fmt.Errorf("install: %w", base)

	require.True(t, ferrors.Is(wrapped, ferrors.Busy))
	require.False(t, ferrors.Is(wrapped, ferrors.Timeout))
	require.False(t, ferrors.Is(fmt.Errorf("plain error"), ferrors.Busy))
}

func TestGoneIsNotFound(t *testing.T) {
	require.True(t, ferrors.Is(ferrors.Gone, ferrors.NotFound))
}
