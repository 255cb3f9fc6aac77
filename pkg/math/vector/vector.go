// Package vector provides the float32 kernels shared by the index, graph
// builder and cluster engine: normalization, dot product, cosine similarity
// and element-wise means.
//
// Embeddings are not guaranteed unit-length by the encoder, so cosine
// similarity is the canonical metric everywhere. Indexes normalize vectors
// once at insert time so similarity becomes a plain dot product on the hot
// search path.
package vector

import "math"

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a
// zero-filled copy (cosine similarity against it is 0, never NaN).
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	NormalizeInPlace(out)
	return out
}

// NormalizeInPlace scales v to unit length in place.
func NormalizeInPlace(v []float32) {
	n := Norm(v)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range v {
		v[i] *= inv
	}
}

// DotProduct returns the dot product of a and b. For unit vectors this is
// the cosine similarity.
func DotProduct(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	// Unrolled by 4: this loop dominates query latency.
	i := 0
	for ; i+4 <= n; i += 4 {
		sum += float64(a[i])*float64(b[i]) +
			float64(a[i+1])*float64(b[i+1]) +
			float64(a[i+2])*float64(b[i+2]) +
			float64(a[i+3])*float64(b[i+3])
	}
	for ; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineSimilarity returns the cosine similarity of a and b without
// requiring either to be normalized.
func CosineSimilarity(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return DotProduct(a, b) / (na * nb)
}

// Mean returns the element-wise mean of vecs. Vectors whose length differs
// from the first are skipped. Returns nil for empty input.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dims := len(vecs[0])
	sums := make([]float64, dims)
	count := 0
	for _, v := range vecs {
		if len(v) != dims {
			continue
		}
		for i, x := range v {
			sums[i] += float64(x)
		}
		count++
	}
	if count == 0 {
		return nil
	}
	out := make([]float32, dims)
	for i, s := range sums {
		out[i] = float32(s / float64(count))
	}
	return out
}
