package utils

import "math"

// floatTolerance bounds the relative error accepted when cross-checking
// provider-reported market values against quantity * price.
const floatTolerance = 1e-6

// RoundFloat rounds a float64 to a specified number of decimal places.
func RoundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// FloatEquals reports whether a and b are equal within floating-point
// tolerance, scaled to the magnitude of the operands.
func FloatEquals(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff <= floatTolerance {
		return true
	}
	largest := math.Max(math.Abs(a), math.Abs(b))
	return diff <= largest*floatTolerance
}
