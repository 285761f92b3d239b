package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillWindow(w *OracleWindow, base time.Time, prices ...float64) {
	for i, p := range prices {
		w.Add(OraclePoint{Symbol: "btc/usd", Price: p, At: base.Add(time.Duration(i) * time.Second)})
	}
}

func TestOracleWindow_PrunesOldPoints(t *testing.T) {
	w := NewOracleWindow(10 * time.Second)
	base := time.Now()

	w.Add(OraclePoint{Price: 100, At: base})
	w.Add(OraclePoint{Price: 101, At: base.Add(5 * time.Second)})
	w.Add(OraclePoint{Price: 102, At: base.Add(15 * time.Second)}) // expulsa el primero

	assert.Equal(t, 2, w.Len())
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 102.0, last.Price)
}

func TestVolatility_NeedsThreePoints(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	fillWindow(w, time.Now(), 100, 101)

	_, ok := w.Volatility()
	assert.False(t, ok)
}

func TestVolatility_ConstantPriceIsZero(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	fillWindow(w, time.Now(), 100, 100, 100, 100)

	vol, ok := w.Volatility()
	require.True(t, ok)
	assert.Equal(t, 0.0, vol)
}

func TestVolatility_SampleStddevOfReturns(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	// retornos: +1%, -1% → media 0 (aprox), stddev muestral conocida
	fillWindow(w, time.Now(), 100, 101, 99.99)

	vol, ok := w.Volatility()
	require.True(t, ok)
	assert.InDelta(t, 0.0141, vol, 0.001)
}

func TestZ_AgainstPriceToBeat(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	fillWindow(w, time.Now(), 100, 100.1, 100.2, 100.3)

	z, ok := w.Z(100.0)
	require.True(t, ok)
	assert.Greater(t, z, 0.0)
}

func TestZ_ZeroBeat(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	fillWindow(w, time.Now(), 100, 101, 102)

	_, ok := w.Z(0)
	assert.False(t, ok)
}

func TestZ_ZeroVolatility(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	fillWindow(w, time.Now(), 100, 100, 100)

	_, ok := w.Z(99)
	assert.False(t, ok)
}

func TestSlope_USDPerSecond(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	// 3 puntos a 1s: +3 USD en 2 segundos.
	fillWindow(w, time.Now(), 100, 105, 103)

	slope, ok := w.Slope()
	require.True(t, ok)
	assert.InDelta(t, 1.5, slope, 1e-9)
}

func TestSlope_SinglePoint(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	fillWindow(w, time.Now(), 100)

	_, ok := w.Slope()
	assert.False(t, ok)
}

func TestSlope_NoTimeElapsed(t *testing.T) {
	w := NewOracleWindow(time.Minute)
	at := time.Now()
	w.Add(OraclePoint{Price: 100, At: at})
	w.Add(OraclePoint{Price: 105, At: at})

	_, ok := w.Slope()
	assert.False(t, ok)
}
