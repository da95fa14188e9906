// Package comfort computes the composite human-comfort score for a weather
// observation. Scoring is pure arithmetic: no I/O, no state, no failure mode.
package comfort

import "math"

// Sub-score weights. Temperature dominates, then humidity, then wind.
const (
	temperatureWeight = 0.50
	humidityWeight    = 0.30
	windWeight        = 0.20

	kelvinToCelsius = 273.15
)

// Score combines the three sub-scores by fixed weights and rounds the result
// to one decimal place. Sub-scores are deliberately not clamped before
// combination: extreme inputs can drive the total below zero, matching the
// reference model.
func Score(tempKelvin float64, humidityPct int, windMps float64) float64 {
	total := TemperatureScore(tempKelvin)*temperatureWeight +
		HumidityScore(humidityPct)*humidityWeight +
		WindScore(windMps)*windWeight
	return math.Round(total*10) / 10
}

// TemperatureScore maps temperature in Kelvin to a 0-100 sub-score.
// Comfort plateau 18-24°C, with piecewise-linear decay bands on both sides.
func TemperatureScore(kelvin float64) float64 {
	c := kelvin - kelvinToCelsius
	switch {
	case c >= 18 && c <= 24:
		return 100
	case c >= 15 && c < 18:
		return 80 - (18-c)*10
	case c > 24 && c <= 28:
		return 80 - (c-24)*10
	case c >= 10 && c < 15:
		return 60 - (15-c)*8
	case c > 28 && c <= 32:
		return 60 - (c-28)*10
	case c >= 5 && c < 10:
		return 40 - (10-c)*6
	case c > 32 && c <= 38:
		return 40 - (c-32)*5
	default:
		return math.Max(0, 20-math.Abs(c-21)*2)
	}
}

// HumidityScore maps relative humidity percent to a sub-score.
// Optimal band 30-60%; each decay band outside it has its own slope.
func HumidityScore(pct int) float64 {
	h := float64(pct)
	switch {
	case h >= 30 && h <= 60:
		return 100
	case h >= 20 && h < 30:
		return 80 - (30-h)*2
	case h > 60 && h <= 70:
		return 80 - (h-60)*2
	case h >= 10 && h < 20:
		return 60 - (20-h)*3
	case h > 70 && h <= 85:
		return 60 - (h-70)*2
	case h < 10:
		return math.Max(0, 30-(10-h)*5)
	default: // > 85
		return math.Max(0, 30-(h-85)*3)
	}
}

// WindScore maps wind speed in m/s to a sub-score. Calm is best; each band
// boundary belongs to the lower band (exactly 2 m/s still scores 100).
func WindScore(mps float64) float64 {
	switch {
	case mps <= 2:
		return 100
	case mps <= 5:
		return 100 - (mps-2)*10
	case mps <= 10:
		return 70 - (mps-5)*8
	case mps <= 15:
		return 30 - (mps-10)*4
	default:
		return math.Max(0, 10-(mps-15)*2)
	}
}
