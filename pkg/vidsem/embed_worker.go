package vidsem

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/orneryd/vidsem/pkg/embed"
)

// embedWorker is the pull-based background embedder. Notifications only
// wake it up; the store is the queue. On each wake it scans for items
// without embeddings, embeds them in one bounded batch, feeds the vector
// index, and schedules a debounced re-cluster when the library has grown
// enough.
type embedWorker struct {
	engine   *Engine
	trigger  chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	timerMu        sync.Mutex
	reclusterTimer *time.Timer
}

func newEmbedWorker(e *Engine) *embedWorker {
	return &embedWorker{
		engine:  e,
		trigger: make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *embedWorker) start() {
	go w.run()
}

// notify wakes the worker. Coalesces: a wake-up already pending is enough.
func (w *embedWorker) notify() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *embedWorker) stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		<-w.done
		w.timerMu.Lock()
		if w.reclusterTimer != nil {
			w.reclusterTimer.Stop()
		}
		w.timerMu.Unlock()
	})
}

func (w *embedWorker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case <-w.trigger:
			if n := w.processPending(); n > 0 {
				w.maybeScheduleRecluster()
			}
		}
	}
}

// processPending embeds every stored item that has text but no embedding.
// Failures are isolated per item: one bad item never aborts the batch.
func (w *embedWorker) processPending() int {
	e := w.engine
	items, err := e.store.AllItems()
	if err != nil {
		log.Printf("[EMBED] Scan failed: %v", err)
		return 0
	}

	pending := items[:0]
	for _, it := range items {
		if !it.HasEmbedding() {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return 0
	}

	texts := make([]string, len(pending))
	for i, it := range pending {
		texts[i] = it.TextContent
	}
	results := e.embedSvc.EmbedBatch(context.Background(), texts)

	embedded := 0
	for i, res := range results {
		it := pending[i]
		if res.Err != nil {
			if errors.Is(res.Err, embed.ErrEmptyInput) {
				continue // nothing to embed, not a failure
			}
			log.Printf("[EMBED] Item %s failed: %v", it.ID, res.Err)
			continue
		}
		if err := e.store.UpdateEmbedding(it.ID, res.Vector); err != nil {
			log.Printf("[EMBED] Persisting embedding for %s failed: %v", it.ID, err)
			continue
		}
		e.mu.RLock()
		if err := e.index.Insert(it.ID, res.Vector); err != nil {
			log.Printf("[EMBED] Indexing %s failed: %v", it.ID, err)
		}
		e.mu.RUnlock()
		embedded++
	}
	if embedded > 0 {
		log.Printf("[EMBED] Embedded %d of %d pending items", embedded, len(pending))
	}
	return embedded
}

// maybeScheduleRecluster arms (or re-arms) the debounced re-cluster when
// the embedded library has grown past the configured percentage.
func (w *embedWorker) maybeScheduleRecluster() {
	e := w.engine
	items, err := e.store.AllItemsWithEmbeddings()
	if err != nil {
		return
	}

	e.cancelMu.Lock()
	last := e.lastClusterCount
	e.cancelMu.Unlock()

	grown := last == 0 && len(items) > 0
	if last > 0 {
		growth := float64(len(items)-last) / float64(last) * 100
		grown = growth > e.config.ReclusterGrowthPct
	}
	if !grown {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.reclusterTimer != nil {
		w.reclusterTimer.Stop()
	}
	w.reclusterTimer = time.AfterFunc(e.config.ReclusterDebounce, func() {
		if err := e.Recluster(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[EMBED] Auto re-cluster failed: %v", err)
		}
	})
}
