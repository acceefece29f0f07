package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		expected string
	}{
		{"zero", 0, "$0.00"},
		{"whole", 100, "$100.00"},
		{"cents", 12.5, "$12.50"},
		{"thousands", 1234.5, "$1,234.50"},
		{"millions", 2500000, "$2,500,000.00"},
		{"negative", -5, "-$5.00"},
		{"rounds to cent", 10.006, "$10.01"},
		{"negative rounding to zero", -0.001, "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.amount))
		})
	}
}

func TestFormatWith(t *testing.T) {
	assert.Equal(t, "€1,000.00", FormatWith("€", 1000))
	assert.Equal(t, "-£3.25", FormatWith("£", -3.25))
}
