package rating

import "math"

// RoundPrice4999 rounds a rate up to the nearest .49 or .99 price
// point. Values already ending in .49 or .99 (within a tolerance for
// float noise) are kept. Values at or above .99 cents roll over to the
// next whole's .49.
func RoundPrice4999(value float64) float64 {
	cents := round2(math.Mod(value, 1))
	whole := math.Floor(value)

	if math.Abs(cents-0.49) < 0.001 || math.Abs(cents-0.99) < 0.001 {
		return round2(value)
	}
	if cents < 0.49 {
		return round2(whole + 0.49)
	}
	if cents < 0.99 {
		return round2(whole + 0.99)
	}
	return round2(whole + 1.49)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
