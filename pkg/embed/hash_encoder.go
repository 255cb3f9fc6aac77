package embed

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/orneryd/vidsem/pkg/math/vector"
)

// HashEncoder is a deterministic TextEncoder built on token hashing. It is
// not a semantic model; it exists so the CLI and tests can run the whole
// pipeline offline with stable, repeatable vectors. Texts sharing tokens
// land near each other, which is enough to exercise the index, graph and
// cluster paths end to end.
type HashEncoder struct {
	dims int
}

// NewHashEncoder creates a hash encoder producing dims-wide vectors.
func NewHashEncoder(dims int) *HashEncoder {
	if dims <= 0 {
		dims = 384
	}
	return &HashEncoder{dims: dims}
}

func (h *HashEncoder) Dimensions() int { return h.dims }

func (h *HashEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, token := range strings.Fields(text) {
		hasher := fnv.New64a()
		hasher.Write([]byte(token))
		sum := hasher.Sum64()
		slot := int(sum % uint64(h.dims))
		// Sign from a high bit keeps the vectors roughly zero-centered.
		if sum&(1<<63) != 0 {
			vec[slot] -= 1
		} else {
			vec[slot] += 1
		}
	}
	vector.NormalizeInPlace(vec)
	return vec, nil
}

var _ TextEncoder = (*HashEncoder)(nil)
