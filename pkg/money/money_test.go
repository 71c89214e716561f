package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	t.Run("converts at currency scale", func(t *testing.T) {
		v, err := ToMinorUnits("10.50", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1050), v)
	})

	t.Run("zero scale currency", func(t *testing.T) {
		v, err := ToMinorUnits("1200", 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), v)
	})

	t.Run("fewer decimals than scale is fine", func(t *testing.T) {
		v, err := ToMinorUnits("7", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(700), v)
	})

	t.Run("rejects excess precision", func(t *testing.T) {
		_, err := ToMinorUnits("10.505", 2)
		assert.ErrorIs(t, err, ErrScaleExceeded)
	})

	t.Run("rejects malformed strings", func(t *testing.T) {
		for _, s := range []string{"", "abc", "10.5.0", "1e", "--1"} {
			_, err := ToMinorUnits(s, 2)
			assert.ErrorIs(t, err, ErrMalformedAmount, "input %q", s)
		}
	})

	t.Run("rejects out of range", func(t *testing.T) {
		_, err := ToMinorUnits("92233720368547758.08", 2)
		assert.ErrorIs(t, err, ErrAmountTooLarge)
	})

	t.Run("no float drift", func(t *testing.T) {
		// 0.1 + 0.2 style values must convert exactly.
		v, err := ToMinorUnits("0.30", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(30), v)
	})
}

func TestFromMinorUnits(t *testing.T) {
	assert.Equal(t, "10.50", FromMinorUnits(1050, 2))
	assert.Equal(t, "0.01", FromMinorUnits(1, 2))
	assert.Equal(t, "-3.75", FromMinorUnits(-375, 2))
	assert.Equal(t, "1200", FromMinorUnits(1200, 0))
}

func TestRoundTrip(t *testing.T) {
	scales := Scales{"USD": 2, "JPY": 0}

	scale, err := scales.Scale("USD")
	require.NoError(t, err)

	v, err := ToMinorUnits("123.45", scale)
	require.NoError(t, err)
	assert.Equal(t, "123.45", FromMinorUnits(v, scale))

	_, err = scales.Scale("XXX")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}
