package domain

import (
	"math"
	"time"
)

// OraclePoint es una observación del precio del oráculo.
type OraclePoint struct {
	Symbol string // "btc/usd"
	Price  float64
	At     time.Time
}

// OracleWindow mantiene una ventana rodante de observaciones del oráculo.
// No es thread-safe; el guard serializa el acceso.
type OracleWindow struct {
	span   time.Duration
	points []OraclePoint
}

// NewOracleWindow crea una ventana rodante del span dado.
func NewOracleWindow(span time.Duration) *OracleWindow {
	return &OracleWindow{span: span}
}

// Add incorpora un punto y poda lo que quede fuera de la ventana.
func (w *OracleWindow) Add(p OraclePoint) {
	w.points = append(w.points, p)
	cutoff := p.At.Add(-w.span)
	i := 0
	for i < len(w.points) && w.points[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.points = w.points[i:]
	}
}

// Len devuelve el número de puntos dentro de la ventana.
func (w *OracleWindow) Len() int {
	return len(w.points)
}

// Last devuelve la última observación. ok=false si la ventana está vacía.
func (w *OracleWindow) Last() (OraclePoint, bool) {
	if len(w.points) == 0 {
		return OraclePoint{}, false
	}
	return w.points[len(w.points)-1], true
}

// Volatility devuelve la desviación estándar muestral de los retornos
// porcentuales punto a punto. Necesita al menos 3 puntos (2 retornos);
// con menos, ok=false.
func (w *OracleWindow) Volatility() (float64, bool) {
	if len(w.points) < 3 {
		return 0, false
	}

	returns := make([]float64, 0, len(w.points)-1)
	for i := 1; i < len(w.points); i++ {
		prev := w.points[i-1].Price
		if prev == 0 {
			continue
		}
		returns = append(returns, (w.points[i].Price-prev)/prev)
	}
	if len(returns) < 2 {
		return 0, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(returns)-1)), true
}

// Z devuelve el z-score del último precio respecto al precio a batir,
// normalizado por la volatilidad de la ventana: (last - beat) / (beat * vol).
// ok=false si falta el último punto, la volatilidad, o el denominador es 0.
func (w *OracleWindow) Z(beat float64) (float64, bool) {
	last, ok := w.Last()
	if !ok || beat == 0 {
		return 0, false
	}
	vol, ok := w.Volatility()
	if !ok || vol == 0 {
		return 0, false
	}
	return (last.Price - beat) / (beat * vol), true
}

// Slope devuelve la pendiente de la ventana en USD por segundo:
// (último precio - primero) / segundos transcurridos. ok=false con menos
// de 2 puntos o con timestamps que no avanzan.
func (w *OracleWindow) Slope() (float64, bool) {
	if len(w.points) < 2 {
		return 0, false
	}
	first := w.points[0]
	last := w.points[len(w.points)-1]
	dt := last.At.Sub(first.At).Seconds()
	if dt <= 0 {
		return 0, false
	}
	return (last.Price - first.Price) / dt, true
}

// GuardReason identifica por qué el guard del oráculo bloqueó una entrada.
// El orden de los valores es el orden de evaluación del gate.
type GuardReason string

const (
	GuardOK          GuardReason = ""
	GuardNoSnapshot  GuardReason = "no_snapshot"
	GuardStale       GuardReason = "stale"
	GuardNoBeat      GuardReason = "no_price_to_beat"
	GuardFewPoints   GuardReason = "few_points"
	GuardNoVol       GuardReason = "no_volatility"
	GuardHighVol     GuardReason = "high_volatility"
	GuardNoZ         GuardReason = "no_zscore"
	GuardLowZ        GuardReason = "low_zscore"
	GuardDisagrees   GuardReason = "oracle_disagrees"
	GuardReversal    GuardReason = "reversal_slope"
)
