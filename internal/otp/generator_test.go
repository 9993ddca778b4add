package otp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Shape(t *testing.T) {
	g := NewGenerator(6)

	for i := 0; i < 500; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
		}
	}
}

func TestGenerator_DefaultLength(t *testing.T) {
	assert.Equal(t, DefaultLength, NewGenerator(0).Length())
}

func TestGenerator_CoversAllDigits(t *testing.T) {
	g := NewGenerator(6)
	seen := map[rune]bool{}
	for i := 0; i < 200 && len(seen) < 10; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		for _, r := range code {
			seen[r] = true
		}
	}
	assert.Len(t, seen, 10)
}

func TestGenerator_SourceError(t *testing.T) {
	g := NewGenerator(6)
	g.source = bytes.NewReader(nil)

	_, err := g.Generate()
	assert.Error(t, err)
}
