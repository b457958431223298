// Package ocr holds recognition results and the word-level delta between
// two recognitions of the same area.
package ocr

import (
	"encoding/json"
	"math"
	"time"
)

// Float64WithPrecision rounds to 2 decimal places when marshalled
type Float64WithPrecision float64

func (f Float64WithPrecision) MarshalJSON() ([]byte, error) {
	rounded := math.Round(float64(f)*100) / 100
	return json.Marshal(rounded)
}

// Word is one recognized word and its bounding box
type Word struct {
	Text        string               `json:"text"`
	Confidence  Float64WithPrecision `json:"confidence"`
	BoundingBox Box                  `json:"bb"`
}

// Box is a word's position relative to the captured region
type Box struct {
	XMin int `json:"xMin"`
	YMin int `json:"yMin"`
	XMax int `json:"xMax"`
	YMax int `json:"yMax"`
}

// Options are the per-area recognizer hints
type Options struct {
	Language   string `json:"language"`
	Preprocess bool   `json:"preprocess"`
}

// Result is the outcome of one recognition. Confidence is the mean word
// confidence in the range 0-100.
type Result struct {
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	Words          []Word        `json:"words,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// MeanConfidence averages the word confidences, 0 without words
func MeanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += float64(w.Confidence)
	}
	return sum / float64(len(words))
}
