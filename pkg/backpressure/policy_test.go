package backpressure

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for in, want := range map[string]Policy{
		"":            DropNewest,
		"drop_newest": DropNewest,
		"drop_oldest": DropOldest,
		"block":       Block,
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := Parse("drop_everything")
	require.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	for _, p := range []Policy{DropNewest, DropOldest, Block} {
		got, err := Parse(p.String())
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}
