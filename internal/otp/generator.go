package otp

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const DefaultLength = 6

// Generator draws numeric codes from a cryptographic source.
type Generator struct {
	length int
	source io.Reader
}

func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length, source: rand.Reader}
}

func (g *Generator) Length() int {
	return g.length
}

// Generate returns exactly Length decimal digits; leading zeros are kept.
func (g *Generator) Generate() (string, error) {
	var sb strings.Builder
	sb.Grow(g.length)
	ten := big.NewInt(10)
	for i := 0; i < g.length; i++ {
		d, err := rand.Int(g.source, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate otp digit: %w", err)
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}
