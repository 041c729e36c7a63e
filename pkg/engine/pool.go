package engine

import (
	"context"
	"sync"

	"github.com/McLaouth/cloudsplaining/pkg/config"
	"github.com/McLaouth/cloudsplaining/pkg/scan"
)

// evaluateAll fans document evaluation out over a bounded worker pool.
// Results land at the index of their document, so output order never depends
// on scheduling.
func (e *Engine) evaluateAll(ctx context.Context, scanner *scan.AccountScanner, docs []scan.DocumentContext) []*scan.Result {
	if len(docs) == 0 {
		return nil
	}

	workers := e.config.MaxConcurrency
	if workers <= 0 {
		workers = config.DefaultScanConfig().MaxConcurrency
	}
	if workers > len(docs) {
		workers = len(docs)
	}

	results := make([]*scan.Result, len(docs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = scanner.Evaluate(docs[i])
			}
		}()
	}

feed:
	for i := range docs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	// Cancellation can leave trailing nils; compact them away.
	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
