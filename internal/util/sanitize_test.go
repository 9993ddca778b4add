package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskMobile(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{name: "eleven digits", input: "09123456789", expect: "*******6789"},
		{name: "exactly four", input: "1234", expect: "****"},
		{name: "empty", input: "", expect: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, MaskMobile(tt.input))
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "Ali", SanitizeInput("  Ali "))
	assert.Equal(t, "O'Brien", SanitizeInput("O'Brien\x00"))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<script>"))
	assert.True(t, ContainsSuspicious("${jndi}"))
	assert.False(t, ContainsSuspicious("Reza"))
}
