package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToBase(t *testing.T) {
	c := NewConverter(map[string]float64{
		"usd": 1.0,
		"EUR": 1.10,
		"JPY": 0.0065,
	}, zap.NewNop())

	t.Run("same currency is identity", func(t *testing.T) {
		amount, rate, err := c.ToBase(250, "USD", "usd")
		require.NoError(t, err)
		assert.Equal(t, 250.0, amount)
		assert.Equal(t, 1.0, rate)
	})

	t.Run("cross rate via table", func(t *testing.T) {
		amount, rate, err := c.ToBase(100, "EUR", "USD")
		require.NoError(t, err)
		assert.InDelta(t, 110, amount, 1e-9)
		assert.InDelta(t, 1.10, rate, 1e-9)
	})

	t.Run("unknown currency errors", func(t *testing.T) {
		_, _, err := c.ToBase(10, "XXX", "USD")
		assert.Error(t, err)
	})

	t.Run("unknown base errors", func(t *testing.T) {
		_, _, err := c.ToBase(10, "EUR", "GBP")
		assert.Error(t, err)
	})
}
