package ocr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func word(text string, x, y int) Word {
	return Word{Text: text, Confidence: 90, BoundingBox: Box{XMin: x, YMin: y, XMax: x + 40, YMax: y + 12}}
}

func TestDiff(t *testing.T) {
	old := []Word{word("HP", 0, 0), word("100", 50, 0), word("MP", 0, 20)}
	next := []Word{word("HP", 2, 1), word("25", 51, 0), word("Poisoned", 200, 200)}

	d := Diff(old, next)
	assert.False(t, d.Empty())
	assert.Equal(t, []Word{word("Poisoned", 200, 200)}, d.Added)
	assert.Equal(t, []Word{word("MP", 0, 20)}, d.Removed)
	assert.Equal(t, []Change{{Old: word("100", 50, 0), New: word("25", 51, 0)}}, d.Modified)
}

func TestDiffUnchanged(t *testing.T) {
	words := []Word{word("ready", 10, 10)}
	assert.True(t, Diff(words, words).Empty())
	assert.True(t, Diff(nil, nil).Empty())
}

func TestMeanConfidenceAndRounding(t *testing.T) {
	assert.Zero(t, MeanConfidence(nil))
	words := []Word{{Confidence: 80}, {Confidence: 91}}
	assert.InDelta(t, 85.5, MeanConfidence(words), 1e-9)

	out, err := json.Marshal(Word{Text: "x", Confidence: 87.456})
	assert.NoError(t, err)
	assert.Contains(t, string(out), `"confidence":87.46`)
}
