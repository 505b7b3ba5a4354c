package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name  string
		input interface{}
		want  *float64
	}{
		{"dollar string", "$2.68", ptr(2.68)},
		{"thousands separator", "$1,234.56", ptr(1234.56)},
		{"bare number string", "42.50", ptr(42.50)},
		{"padded string", "  $3.00 ", ptr(3.00)},
		{"float passthrough", 2.68, ptr(2.68)},
		{"int passthrough", 5, ptr(5.0)},
		{"int64 passthrough", int64(7), ptr(7.0)},
		{"json number", json.Number("8.25"), ptr(8.25)},
		{"nil input", nil, nil},
		{"empty string", "", nil},
		{"currency only", "$", nil},
		{"garbage string", "refund pending", nil},
		{"unsupported type", []string{"x"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseAmount(tc.input)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tc.want, *got, 0.0001)
		})
	}
}

func TestParseAmountZeroIsNotNil(t *testing.T) {
	got := ParseAmount("$0.00")
	require.NotNil(t, got, "a zero amount is a real amount, not a missing one")
	assert.Equal(t, 0.0, *got)
}

func TestMinorToDecimal(t *testing.T) {
	assert.Equal(t, 2.68, MinorToDecimal(268))
	assert.Equal(t, 0.0, MinorToDecimal(0))
	assert.Equal(t, -5.00, MinorToDecimal(-500))
}

func ptr(f float64) *float64 { return &f }
