package audio

import "math"

// DBToGain converts decibels to a linear amplitude factor, 10^(db/20).
func DBToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

// GainToDB is the inverse of DBToGain. Non-positive gains map to -Inf.
func GainToDB(gain float64) float64 {
	if gain <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(gain)
}
