package textindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeSplitsAndLowercases(t *testing.T) {
	require.Equal(t, []string{"the", "quick", "brown", "fox42"}, Tokenize("The Quick, Brown Fox42!"))
}

func TestTokenizeEmpty(t *testing.T) {
	require.Nil(t, Tokenize(""))
	require.Nil(t, Tokenize("   ---  "))
}
