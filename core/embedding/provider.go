package embedding

import (
	"context"
	"slices"
)

// =============================================================================
// Embedding Providers
// =============================================================================

// DefaultDimension is the vector width produced when a provider is built
// without an explicit dimension. Intents are short phrases, so a compact
// space is enough to separate them.
const DefaultDimension = 256

// Provider turns intent text into a vector. Implementations may be
// I/O-bound; callers must treat Embed as a blocking call and keep it off
// the scoring hot path.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Static serves fixed vectors from a lookup table. Texts without an entry
// embed to the zero vector, which downstream scoring treats as neutral.
type Static struct {
	dimension int
	vectors   map[string][]float32
}

// NewStatic builds a table-backed provider.
func NewStatic(dimension int, vectors map[string][]float32) *Static {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	table := make(map[string][]float32, len(vectors))
	for text, vec := range vectors {
		table[text] = slices.Clone(vec)
	}
	return &Static{dimension: dimension, vectors: table}
}

func (s *Static) Dimension() int {
	return s.dimension
}

func (s *Static) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return slices.Clone(vec), nil
	}
	return make([]float32, s.dimension), nil
}

func (s *Static) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
