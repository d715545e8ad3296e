// Package models contains domain models for sentiment-checker.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// EmotionLabel is a normalized emotion name from the reference taxonomy.
type EmotionLabel string

// Emotion labels of the reference set. The list is append-only.
const (
	EmotionUnclear        EmotionLabel = "example_very_unclear"
	EmotionAdmiration     EmotionLabel = "admiration"
	EmotionAmusement      EmotionLabel = "amusement"
	EmotionAnger          EmotionLabel = "anger"
	EmotionAnnoyance      EmotionLabel = "annoyance"
	EmotionApproval       EmotionLabel = "approval"
	EmotionCaring         EmotionLabel = "caring"
	EmotionConfusion      EmotionLabel = "confusion"
	EmotionCuriosity      EmotionLabel = "curiosity"
	EmotionDesire         EmotionLabel = "desire"
	EmotionDisappointment EmotionLabel = "disappointment"
	EmotionDisapproval    EmotionLabel = "disapproval"
	EmotionDisgust        EmotionLabel = "disgust"
	EmotionEmbarrassment  EmotionLabel = "embarrassment"
	EmotionExcitement     EmotionLabel = "excitement"
	EmotionFear           EmotionLabel = "fear"
	EmotionGratitude      EmotionLabel = "gratitude"
	EmotionGrief          EmotionLabel = "grief"
	EmotionJoy            EmotionLabel = "joy"
	EmotionLove           EmotionLabel = "love"
	EmotionNervousness    EmotionLabel = "nervousness"
	EmotionOptimism       EmotionLabel = "optimism"
	EmotionPride          EmotionLabel = "pride"
	EmotionRealization    EmotionLabel = "realization"
	EmotionRelief         EmotionLabel = "relief"
	EmotionRemorse        EmotionLabel = "remorse"
	EmotionSadness        EmotionLabel = "sadness"
	EmotionSurprise       EmotionLabel = "surprise"
	EmotionNeutral        EmotionLabel = "neutral"
)

// MaxEmotionWeight bounds the absolute value of any taxonomy weight.
const MaxEmotionWeight = 10.0

// DefaultEmotionWeights is the curated weight table on the [-10, 10] scale.
var DefaultEmotionWeights = map[EmotionLabel]float64{
	EmotionUnclear:        0.0,
	EmotionAdmiration:     7.5,
	EmotionAmusement:      5.0,
	EmotionAnger:          -10.0,
	EmotionAnnoyance:      -5.0,
	EmotionApproval:       5.0,
	EmotionCaring:         7.5,
	EmotionConfusion:      -2.5,
	EmotionCuriosity:      2.5,
	EmotionDesire:         5.0,
	EmotionDisappointment: -7.5,
	EmotionDisapproval:    -7.5,
	EmotionDisgust:        -10.0,
	EmotionEmbarrassment:  -5.0,
	EmotionExcitement:     10.0,
	EmotionFear:           -7.5,
	EmotionGratitude:      10.0,
	EmotionGrief:          -7.5,
	EmotionJoy:            10.0,
	EmotionLove:           10.0,
	EmotionNervousness:    -2.5,
	EmotionOptimism:       7.5,
	EmotionPride:          7.5,
	EmotionRealization:    5.0,
	EmotionRelief:         7.5,
	EmotionRemorse:        -7.5,
	EmotionSadness:        -7.5,
	EmotionSurprise:       2.5,
	EmotionNeutral:        0.0,
}

// NormalizeLabel lower-cases and trims a raw label.
func NormalizeLabel(raw string) EmotionLabel {
	return EmotionLabel(strings.ToLower(strings.TrimSpace(raw)))
}

// Taxonomy is an immutable mapping from emotion label to signed weight.
// It is safe for concurrent use.
type Taxonomy struct {
	weights map[EmotionLabel]float64
}

// NewTaxonomy builds a taxonomy from a weight table.
// Labels are normalized; weights outside [-10, 10] are rejected.
func NewTaxonomy(weights map[EmotionLabel]float64) (*Taxonomy, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("taxonomy: empty weight table")
	}
	t := &Taxonomy{weights: make(map[EmotionLabel]float64, len(weights))}
	for label, w := range weights {
		key := NormalizeLabel(string(label))
		if key == "" {
			return nil, fmt.Errorf("taxonomy: empty label")
		}
		if w < -MaxEmotionWeight || w > MaxEmotionWeight {
			return nil, fmt.Errorf("taxonomy: weight %.2f for %q outside [-%g, %g]", w, key, MaxEmotionWeight, MaxEmotionWeight)
		}
		t.weights[key] = w
	}
	return t, nil
}

// DefaultTaxonomy returns the taxonomy built from DefaultEmotionWeights.
func DefaultTaxonomy() *Taxonomy {
	t, err := NewTaxonomy(DefaultEmotionWeights)
	if err != nil {
		panic(err)
	}
	return t
}

// Weight returns the weight of a label and whether the label is known.
func (t *Taxonomy) Weight(label string) (float64, bool) {
	w, ok := t.weights[NormalizeLabel(label)]
	return w, ok
}

// Contains reports whether the label is part of the taxonomy.
func (t *Taxonomy) Contains(label string) bool {
	_, ok := t.weights[NormalizeLabel(label)]
	return ok
}

// Labels returns all labels in lexical order.
func (t *Taxonomy) Labels() []EmotionLabel {
	labels := make([]EmotionLabel, 0, len(t.weights))
	for l := range t.weights {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// Len returns the number of labels.
func (t *Taxonomy) Len() int { return len(t.weights) }

// EmotionFlags is the typed view of a reference vector's metadata.
// Known holds the taxonomy labels flagged on the vector, Unknown the boolean
// keys that are not part of the taxonomy.
type EmotionFlags struct {
	Known   map[EmotionLabel]bool
	Unknown []string
	Text    string
}

// Present returns the known labels flagged true, sorted.
func (f EmotionFlags) Present() []EmotionLabel {
	out := make([]EmotionLabel, 0, len(f.Known))
	for l, on := range f.Known {
		if on {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseEmotionFlags splits raw reference metadata into known and unknown
// labels. Non-boolean values are ignored except for "text".
func (t *Taxonomy) ParseEmotionFlags(meta map[string]any) EmotionFlags {
	flags := EmotionFlags{Known: make(map[EmotionLabel]bool)}
	for key, raw := range meta {
		if key == "text" {
			if s, ok := raw.(string); ok {
				flags.Text = s
			}
			continue
		}
		present, ok := raw.(bool)
		if !ok {
			continue
		}
		label := NormalizeLabel(key)
		if _, known := t.weights[label]; known {
			flags.Known[label] = present
			continue
		}
		flags.Unknown = append(flags.Unknown, key)
	}
	sort.Strings(flags.Unknown)
	return flags
}
