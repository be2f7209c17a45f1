package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_RoundTripsThroughParse(t *testing.T) {
	tok, err := Generate()
	require.NoError(t, err)
	require.Len(t, tok.String(), Length)

	parsed, err := Parse(tok.String())
	require.NoError(t, err)
	require.Equal(t, tok, parsed)
}

func TestGenerate_NoCollisionsAcrossManySamples(t *testing.T) {
	seen := make(map[Token]bool, 10000)
	for i := 0; i < 10000; i++ {
		tok, err := Generate()
		require.NoError(t, err)
		require.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestParse_RejectsMalformedInput(t *testing.T) {
	valid, err := Generate()
	require.NoError(t, err)

	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"short", valid.String()[:Length-1]},
		{"long", valid.String() + "A"},
		{"lowercase hex", "abcdef0123456789abcdef0123456789"},
		{"non-hex letters", "GGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG"},
		{"path injection", "../../../etc/passwd_0123456789AB"},
		{"null byte", valid.String()[:Length-1] + "\x00"},
		{"slashes", "0123456789ABCDEF/123456789ABCDEF"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.raw)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
