package service

import "math"

// twoProportionSignificant runs a two-tailed two-proportion z-test between a
// control and a challenger, given (conversions, exposures) for each. It
// returns nil when either side has zero exposures, since the comparison is
// undefined; otherwise it reports whether the difference in conversion rates
// is significant at the given confidence level.
func twoProportionSignificant(controlConv, controlExp, challengerConv, challengerExp int64, confidence float64) *bool {
	if controlExp == 0 || challengerExp == 0 {
		return nil
	}

	p1 := float64(controlConv) / float64(controlExp)
	p2 := float64(challengerConv) / float64(challengerExp)
	n1 := float64(controlExp)
	n2 := float64(challengerExp)

	pooled := (float64(controlConv) + float64(challengerConv)) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	significant := false
	if se > 0 {
		z := (p2 - p1) / se
		significant = normalTwoTailedP(z) <= 1-confidence
	}
	return &significant
}

// normalTwoTailedP is the two-tailed p-value of a standard normal z score:
// P(|Z| >= |z|) = erfc(|z| / sqrt(2)).
func normalTwoTailedP(z float64) float64 {
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}
