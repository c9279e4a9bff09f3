package converter

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, 19.99, FormatAmount(1999))
	assert.Equal(t, 0.01, FormatAmount(1))
	assert.Equal(t, float64(0), FormatAmount(0))
}

func TestConvertAmount(t *testing.T) {
	amount, err := ConvertAmount(19.99)
	require.NoError(t, err)
	assert.Equal(t, int64(1999), amount)

	amount, err = ConvertAmount(0.1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), amount)

	_, err = ConvertAmount(1.005)
	assert.Error(t, err)

	amount, err = ConvertAmount(1e15)
	require.NoError(t, err)
	assert.Equal(t, int64(1e17), amount)

	for _, value := range []float64{1e30, -1e30, 1e17, math.Inf(1), math.NaN()} {
		_, err = ConvertAmount(value)
		assert.Error(t, err, "amount %v", value)
	}
}

func TestApplyRate(t *testing.T) {
	rate := decimal.RequireFromString("0.1250")

	assert.Equal(t, int64(125), ApplyRate(1000, rate))
	assert.Equal(t, int64(2), ApplyRate(12, rate))
	assert.Equal(t, int64(1), ApplyRateFloor(12, rate))
	assert.Equal(t, int64(0), ApplyRateFloor(0, rate))
}
