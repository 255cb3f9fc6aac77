// Package embed turns item text into embeddings. It owns text preparation,
// bounded-concurrency batching and error translation only; numeric inference
// is delegated to an injected TextEncoder so tests (and the offline CLI) can
// substitute a deterministic encoder.
package embed

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// MaxInputChars is the character budget handed to the encoder. Text is
// truncated here, after cleaning, so the model never sees oversized input.
const MaxInputChars = 1000

// DefaultBatchConcurrency bounds how many encoder calls run at once during
// EmbedBatch. Excess work queues instead of spawning unbounded goroutines.
const DefaultBatchConcurrency = 10

var (
	// ErrEmptyInput means the text was empty (or whitespace-only) after
	// cleaning; the encoder is not invoked.
	ErrEmptyInput = errors.New("embed: empty input after cleaning")

	// ErrModelUnavailable means no encoder is configured or it reported
	// itself unloaded. Recoverable: callers skip the item and retry later.
	ErrModelUnavailable = errors.New("embed: model unavailable")
)

// InferenceError wraps a failure inside the encoder itself.
type InferenceError struct {
	Cause error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("embed: inference failed: %v", e.Cause) }
func (e *InferenceError) Unwrap() error { return e.Cause }

// TextEncoder is the injected inference capability. Encode must be safe for
// the concurrency level configured on the Service.
type TextEncoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

var (
	urlPattern = regexp.MustCompile(`https?://\S+`)
	tagPattern = regexp.MustCompile(`<[^>]*>`)
	wsPattern  = regexp.MustCompile(`\s+`)
)

// CleanText lowercases, strips URLs and HTML tags, collapses whitespace and
// truncates to MaxInputChars. Exported because the keyword path and the
// cluster labeler tokenize the same prepared text.
func CleanText(text string) string {
	text = strings.ToLower(text)
	text = urlPattern.ReplaceAllString(text, " ")
	text = tagPattern.ReplaceAllString(text, " ")
	text = wsPattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if len(text) > MaxInputChars {
		text = text[:MaxInputChars]
	}
	return text
}

// Service prepares text and delegates to the encoder.
type Service struct {
	encoder     TextEncoder
	concurrency int
}

// NewService creates an embedding service around encoder. A concurrency of
// 0 or less uses DefaultBatchConcurrency.
func NewService(encoder TextEncoder, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &Service{encoder: encoder, concurrency: concurrency}
}

// Dimensions returns the encoder's output width, or 0 when no encoder is set.
func (s *Service) Dimensions() int {
	if s.encoder == nil {
		return 0
	}
	return s.encoder.Dimensions()
}

// Embed cleans text and returns its embedding. Pure transform: nothing is
// persisted here.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.encoder == nil {
		return nil, ErrModelUnavailable
	}
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, ErrEmptyInput
	}
	vec, err := s.encoder.Encode(ctx, cleaned)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return nil, err
		}
		return nil, &InferenceError{Cause: err}
	}
	return vec, nil
}

// BatchResult is the per-item outcome of EmbedBatch. A batch never aborts on
// one bad item; failures are isolated per slot.
type BatchResult struct {
	Vector []float32
	Err    error
}

// EmbedBatch embeds texts with at most the configured concurrency in flight.
// Results are positional: results[i] corresponds to texts[i].
func (s *Service) EmbedBatch(ctx context.Context, texts []string) []BatchResult {
	results := make([]BatchResult, len(texts))
	if len(texts) == 0 {
		return results
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			results[i] = BatchResult{Err: err}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			vec, err := s.Embed(ctx, text)
			results[i] = BatchResult{Vector: vec, Err: err}
		}(i, text)
	}
	wg.Wait()
	return results
}
