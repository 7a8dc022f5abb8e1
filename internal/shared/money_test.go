package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatPeso(t *testing.T) {
	out := FormatPeso(1234.5)
	require.Contains(t, out, "1,234.50")
	require.Contains(t, out, "₱")

	require.Contains(t, FormatPeso(0), "0.00")
}
