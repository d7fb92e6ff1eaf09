package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 12.5 ")
	require.NoError(t, err)
	assert.Equal(t, "12.5", v.String())

	for _, in := range []string{"", "   ", "abc", "NaN", "Inf"} {
		_, err := ParseAmount(in)
		assert.ErrorIs(t, err, ErrInvalidInput, "input %q", in)
	}
}

func TestParseAmount_Bounds(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"0.000000000000000001", true},
		{"0.0000000000000000001", false},
		{"1e-18", true},
		{"1e-19", false},
		{"1e-2000000", false},
		{"123456789012345678901234567890", true},
		{"1234567890123456789012345678901", false},
		{"1e29", true},
		{"1e30", false},
		{"1e2000000", false},
		{"0e-2000000", true},
		{"-5.5", true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			v, err := ParseAmount(tc.in)
			if tc.ok {
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, v.Exponent(), int32(-MaxAmountScale))
			} else {
				assert.ErrorIs(t, err, ErrInvalidInput)
			}
		})
	}
}

func TestAmountFromFloat(t *testing.T) {
	v, err := AmountFromFloat(0.25)
	require.NoError(t, err)
	assert.Equal(t, "0.25", v.String())

	for _, in := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e-300, 1e300} {
		_, err := AmountFromFloat(in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("sol_usd")
	require.NoError(t, err)
	assert.Equal(t, Pair{From: "SOL", To: "USD"}, p)
	assert.Equal(t, "SOLUSD", p.Symbol())
	assert.Equal(t, "SOL_USD", p.String())

	_, err = ParsePair("SOLUSD")
	assert.Error(t, err)
}
