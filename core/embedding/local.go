package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// Local Hashed-Feature Provider
// =============================================================================

const (
	tokenWeight   = 0.6
	trigramWeight = 0.4

	tokenSlots   = 6
	trigramSlots = 3
)

// Local embeds text deterministically by hashing word tokens and character
// trigrams into signed positions of a fixed-width vector. No model, no
// network, identical output for identical input.
type Local struct {
	dimension int
}

// NewLocal builds a hashed-feature provider. A non-positive dimension
// falls back to DefaultDimension.
func NewLocal(dimension int) *Local {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Local{dimension: dimension}
}

func (l *Local) Dimension() int {
	return l.dimension
}

func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	return l.embed(text), nil
}

func (l *Local) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = l.embed(text)
	}
	return out, nil
}

func (l *Local) embed(text string) []float32 {
	vec := make([]float32, l.dimension)
	l.addFeatures(vec, splitTokens(text), tokenWeight, tokenSlots)
	l.addFeatures(vec, charNgrams(text, 3), trigramWeight, trigramSlots)
	normalize(vec)
	return vec
}

// addFeatures scatters each feature into slots pseudo-random positions
// with hash-derived signs, scaled so feature-rich texts do not dominate.
func (l *Local) addFeatures(vec []float32, features []string, weight float64, slots int) {
	if len(features) == 0 {
		return
	}
	w := float32(weight / math.Sqrt(float64(len(features))))
	for _, feature := range features {
		seed := hash64(feature)
		state := seed
		for i := 0; i < slots; i++ {
			state = state*6364136223846793005 + 1442695040888963407
			idx := int(state % uint64(l.dimension))
			if (seed>>uint(i))&1 == 1 {
				vec[idx] += w
			} else {
				vec[idx] -= w
			}
		}
	}
}

func splitTokens(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() >= 2 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func charNgrams(text string, n int) []string {
	text = strings.ToLower(text)
	if len(text) < n {
		return nil
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i+n <= len(text); i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func normalize(vec []float32) {
	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(mag))
	for i := range vec {
		vec[i] *= inv
	}
}
