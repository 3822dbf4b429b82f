package types

import "strings"

// Impact rates how badly a page change affects automation.
type Impact string

const (
	ImpactNone     Impact = "none"
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

var impactRank = map[Impact]int{
	ImpactNone:     0,
	ImpactLow:      1,
	ImpactMedium:   2,
	ImpactHigh:     3,
	ImpactCritical: 4,
}

// ParseImpact normalizes a free-text impact rating. Unknown values report false.
func ParseImpact(s string) (Impact, bool) {
	imp := Impact(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := impactRank[imp]; ok {
		return imp, true
	}
	return "", false
}

// Rank orders impacts from none (0) to critical (4); unknown values rank -1.
func (i Impact) Rank() int {
	if r, ok := impactRank[i]; ok {
		return r
	}
	return -1
}

// Breaking reports whether the impact is high enough to break automation.
func (i Impact) Breaking() bool {
	return i.Rank() >= impactRank[ImpactHigh]
}
