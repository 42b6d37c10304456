package sequence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomAlphaNumeric(t *testing.T) {
	s, err := randomAlphaNumeric(16)
	require.NoError(t, err)
	require.Len(t, s, 16)
	// ambiguous characters are excluded
	require.False(t, strings.ContainsAny(s, "01IO"))
}
