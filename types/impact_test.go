package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseImpact(t *testing.T) {
	tests := []struct {
		in   string
		want Impact
		ok   bool
	}{
		{"none", ImpactNone, true},
		{" Critical ", ImpactCritical, true},
		{"HIGH", ImpactHigh, true},
		{"severe", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseImpact(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestImpact_RankAndBreaking(t *testing.T) {
	assert.Less(t, ImpactLow.Rank(), ImpactMedium.Rank())
	assert.Equal(t, -1, Impact("bogus").Rank())
	assert.False(t, ImpactMedium.Breaking())
	assert.True(t, ImpactHigh.Breaking())
	assert.True(t, ImpactCritical.Breaking())
}
