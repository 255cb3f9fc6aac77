package search

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// stopwords excluded from query tokenization and cluster labeling. Small by
// intent: this runs against short video titles and descriptions, not prose.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "why": true,
	"will": true, "with": true, "you": true, "your": true,
}

// IsStopword reports whether token is excluded from keyword matching.
func IsStopword(token string) bool {
	return stopwords[strings.ToLower(token)]
}

// TokenizeQuery splits q on whitespace, lowercases and drops stopwords.
func TokenizeQuery(q string) []string {
	fields := strings.Fields(strings.ToLower(q))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if !stopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

type keywordDoc struct {
	text        string // lowercased textContent
	publishedAt time.Time
}

// KeywordIndex matches query tokens as case-insensitive substrings of item
// text. Score is the count of matching tokens; zero-score items are
// excluded. Ties rank newer items first, then ascending id.
type KeywordIndex struct {
	mu   sync.RWMutex
	docs map[string]keywordDoc
}

// NewKeywordIndex creates an empty keyword index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{docs: make(map[string]keywordDoc)}
}

// Index adds or replaces the document for id.
func (k *KeywordIndex) Index(id, text string, publishedAt time.Time) {
	if id == "" {
		return
	}
	k.mu.Lock()
	k.docs[id] = keywordDoc{text: strings.ToLower(text), publishedAt: publishedAt}
	k.mu.Unlock()
}

// Remove drops id from the index. Unknown ids are a no-op.
func (k *KeywordIndex) Remove(id string) {
	k.mu.Lock()
	delete(k.docs, id)
	k.mu.Unlock()
}

// Size returns the number of indexed documents.
func (k *KeywordIndex) Size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.docs)
}

// Search ranks documents against query and returns at most limit results.
// An empty or stopword-only query returns an empty slice.
func (k *KeywordIndex) Search(query string, limit int) []Result {
	tokens := TokenizeQuery(query)
	if len(tokens) == 0 || limit <= 0 {
		return []Result{}
	}

	k.mu.RLock()
	type scoredDoc struct {
		id          string
		score       int
		publishedAt time.Time
	}
	matches := make([]scoredDoc, 0, 32)
	for id, doc := range k.docs {
		score := 0
		for _, tok := range tokens {
			if strings.Contains(doc.text, tok) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scoredDoc{id, score, doc.publishedAt})
		}
	}
	k.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if !matches[i].publishedAt.Equal(matches[j].publishedAt) {
			return matches[i].publishedAt.After(matches[j].publishedAt)
		}
		return matches[i].id < matches[j].id
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{ID: m.id, Score: float64(m.score)}
	}
	return out
}
