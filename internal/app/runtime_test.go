package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInTestModeReadsEnvOnce(t *testing.T) {
	t.Setenv("FBMS_TEST_MODE", "1")
	require.True(t, InTestMode())

	// The flag is cached for the process lifetime.
	t.Setenv("FBMS_TEST_MODE", "0")
	require.True(t, InTestMode())
}
