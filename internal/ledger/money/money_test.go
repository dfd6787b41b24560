package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	usd, err := MinorUnits("USD")
	require.NoError(t, err)
	require.Equal(t, int32(2), usd)

	jpy, err := MinorUnits("JPY")
	require.NoError(t, err)
	require.Equal(t, int32(0), jpy)

	_, err = MinorUnits("NOPE")
	require.Error(t, err)
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		exp  int32
		want string
	}{
		{"1.005", 2, "1.01"},
		{"1.004", 2, "1"},
		{"2.5", 0, "3"},
		{"-1.005", 2, "-1.01"},
	}
	for _, tc := range cases {
		got := RoundHalfUp(MustParse(tc.in), tc.exp)
		require.True(t, got.Equal(MustParse(tc.want)), "round %s exp %d: got %s", tc.in, tc.exp, got)
	}
}

func TestEqualAfterRounding(t *testing.T) {
	require.True(t, Equal(MustParse("100.004"), MustParse("100.001"), 2))
	require.False(t, Equal(MustParse("100.00"), MustParse("99.99"), 2))
	require.True(t, Equal(decimal.Zero, MustParse("0.000"), 2))
}
