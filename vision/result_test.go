package vision

import (
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseLocation(t *testing.T) {
	bounds := image.Rect(0, 0, 1000, 1000)
	tests := []struct {
		name    string
		text    string
		found   bool
		wantErr bool
	}{
		{"found", `{"found":true,"confidence":0.8,"x":10,"y":20}`, true, false},
		{"not found skips confidence", `{"found":false}`, false, false},
		{"missing found", `{"confidence":0.8,"x":10,"y":20}`, false, true},
		{"missing confidence", `{"found":true,"x":10,"y":20}`, false, true},
		{"confidence out of range", `{"found":true,"confidence":400,"x":10,"y":20}`, false, true},
		{"missing coordinates", `{"found":true,"confidence":0.8}`, false, true},
		{"negative coordinates", `{"found":true,"confidence":0.8,"x":-1,"y":20}`, false, true},
		{"no json", `I think it's the blue one`, false, true},
		{"array reply", `[{"found":true,"confidence":0.8,"x":1,"y":2}]`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := parseLocation(tt.text, bounds)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.found, loc != nil)
		})
	}
}

func TestParseLocation_SelectorAliases(t *testing.T) {
	loc, err := parseLocation(`{"found":true,"confidence":0.8,"x":1,"y":2,"suggested_selector":"  #save  ","width":-5}`, image.Rectangle{})
	require.NoError(t, err)
	assert.Equal(t, "#save", loc.SuggestedSelector)
	assert.Equal(t, 0.0, loc.Width)
}

// 任何被接受的定位结果置信度都在 [0,1] 内、坐标非负
func TestParseLocation_AcceptedResultsAreWellFormed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		conf := rapid.Float64Range(-50, 150).Draw(t, "confidence")
		x := rapid.Float64Range(-100, 2000).Draw(t, "x")
		y := rapid.Float64Range(-100, 2000).Draw(t, "y")
		text := fmt.Sprintf(`prefix {"found":true,"confidence":%g,"x":%g,"y":%g} suffix`, conf, x, y)

		loc, err := parseLocation(text, image.Rect(0, 0, 1280, 800))
		if err != nil {
			return
		}
		if loc.Confidence < 0 || loc.Confidence > 1 {
			t.Fatalf("confidence %v escaped [0,1]", loc.Confidence)
		}
		if loc.X < 0 || loc.Y < 0 || loc.X > 1280 || loc.Y > 800 {
			t.Fatalf("coordinates (%v,%v) escaped the screenshot", loc.X, loc.Y)
		}
	})
}

func TestParseComparison_FallsBackToChanges(t *testing.T) {
	cmp, err := parseComparison(`{"similarity": 97, "impact": "none", "changes": ["shadow tweak"]}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.97, cmp.Similarity, 1e-9)
	assert.Equal(t, []string{"shadow tweak"}, cmp.Changes())
}
