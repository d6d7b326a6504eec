// Package rank defines the total order over League ranked tiers and
// divisions that channel policies are evaluated against.
package rank

import "strings"

// Tiers in ascending order. Weights step by 100 so divisions can be
// interleaved between tiers.
var Tiers = []string{
	"IRON", "BRONZE", "SILVER", "GOLD", "PLATINUM",
	"EMERALD", "DIAMOND", "MASTER", "GRANDMASTER", "CHALLENGER",
}

var tierWeights = map[string]int{
	"IRON":        0,
	"BRONZE":      100,
	"SILVER":      200,
	"GOLD":        300,
	"PLATINUM":    400,
	"EMERALD":     500,
	"DIAMOND":     600,
	"MASTER":      700,
	"GRANDMASTER": 800,
	"CHALLENGER":  900,
}

// Division weights within a tier. IV is the lowest.
var divisionWeights = map[string]int{
	"IV":  0,
	"III": 25,
	"II":  50,
	"I":   75,
}

var arabicDivisions = map[string]string{
	"1": "I",
	"2": "II",
	"3": "III",
	"4": "IV",
}

// NormalizeTier uppercases a tier name. It does not validate.
func NormalizeTier(tier string) string {
	return strings.ToUpper(strings.TrimSpace(tier))
}

// NormalizeDivision maps arabic ("1".."4") and roman ("I".."IV") division
// forms to the canonical roman form. The second return is false when the
// input is not a recognisable division. Idempotent over its own output.
func NormalizeDivision(division string) (string, bool) {
	d := strings.ToUpper(strings.TrimSpace(division))
	if roman, ok := arabicDivisions[d]; ok {
		return roman, true
	}
	if _, ok := divisionWeights[d]; ok {
		return d, true
	}
	return "", false
}

// IsValidTier reports whether tier is a known tier after normalization.
func IsValidTier(tier string) bool {
	_, ok := tierWeights[NormalizeTier(tier)]
	return ok
}

// IsApexTier reports whether the tier has no meaningful divisions.
func IsApexTier(tier string) bool {
	switch NormalizeTier(tier) {
	case "MASTER", "GRANDMASTER", "CHALLENGER":
		return true
	}
	return false
}

// Value computes the comparable weight of a (tier, division) pair. The
// second return is false when the tier is unknown. Divisions contribute
// nothing at MASTER and above, and an unknown division counts as the
// bottom of the tier.
func Value(tier, division string) (int, bool) {
	w, ok := tierWeights[NormalizeTier(tier)]
	if !ok {
		return 0, false
	}
	if IsApexTier(tier) {
		return w, true
	}
	if div, ok := NormalizeDivision(division); ok {
		return w + divisionWeights[div], true
	}
	return w, true
}

// MeetsMinimum reports whether (tier, division) is at least (minTier,
// minDivision). Unknown tiers on either side fail open: a malformed
// record must never cause a timeout.
func MeetsMinimum(tier, division, minTier, minDivision string) bool {
	user, ok := Value(tier, division)
	if !ok {
		return true
	}
	min, ok := Value(minTier, minDivision)
	if !ok {
		return true
	}
	return user >= min
}
