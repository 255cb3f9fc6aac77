package cluster

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/orneryd/vidsem/pkg/search"
)

// Labels use up to the 5 most frequent non-stopword terms across member
// text, title-cased and space-joined.
const maxLabelTerms = 5

// Labeler derives human-readable cluster labels from member text.
type Labeler struct{}

// NewLabeler creates a labeler.
func NewLabeler() *Labeler { return &Labeler{} }

// Label derives a label for one cluster from its members' text content.
// Returns "Unlabeled" when no usable terms exist.
func (l *Labeler) Label(texts []string) string {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, tok := range search.TokenizeQuery(text) {
			if len(tok) < 2 {
				continue
			}
			counts[tok]++
		}
	}
	if len(counts) == 0 {
		return "Unlabeled"
	}

	type termCount struct {
		term  string
		count int
	}
	terms := make([]termCount, 0, len(counts))
	for term, count := range counts {
		terms = append(terms, termCount{term, count})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		return terms[i].term < terms[j].term
	})

	n := maxLabelTerms
	if len(terms) < n {
		n = len(terms)
	}
	parts := make([]string, 0, n)
	for _, tc := range terms[:n] {
		parts = append(parts, titleCase(tc.term))
	}
	return strings.Join(parts, " ")
}

// LabelAll labels every cluster and disambiguates collisions: when two
// clusters derive an identical label, each colliding label gains a short
// centroid-derived tag so the pair stays distinguishable.
func (l *Labeler) LabelAll(texts [][]string, centroids [][]float32) []string {
	labels := make([]string, len(texts))
	seen := make(map[string][]int)
	for i, memberTexts := range texts {
		labels[i] = l.Label(memberTexts)
		seen[labels[i]] = append(seen[labels[i]], i)
	}

	for _, indexes := range seen {
		if len(indexes) < 2 {
			continue
		}
		for _, i := range indexes {
			labels[i] = fmt.Sprintf("%s (%s)", labels[i], centroidTag(centroids[i]))
		}
	}
	return labels
}

// centroidTag derives a short stable tag from the centroid so colliding
// labels differ without inventing new vocabulary.
func centroidTag(centroid []float32) string {
	h := fnv.New32a()
	for _, v := range centroid {
		bits := math.Float32bits(v)
		h.Write([]byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)})
	}
	return fmt.Sprintf("%04x", h.Sum32()&0xffff)
}

func titleCase(term string) string {
	if term == "" {
		return term
	}
	return strings.ToUpper(term[:1]) + term[1:]
}
