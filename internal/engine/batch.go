package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BatchItem is the outcome of one scenario in a batch. Exactly one of Result
// and Err is set.
type BatchItem struct {
	Index  int
	Result *Result
	Err    error
}

// EvaluateBatch decides every scenario in raws using up to workers goroutines.
// Items are returned in input order. A per-item validation error does not stop
// the batch; cancelling ctx marks every unfinished item with ctx.Err().
func (a *Arbiter) EvaluateBatch(ctx context.Context, raws []map[string]string, policy Policy, opts Options, workers int) ([]BatchItem, time.Duration) {
	start := time.Now()

	if workers <= 0 {
		workers = 1
	}
	if workers > len(raws) {
		workers = len(raws)
	}

	items := make([]BatchItem, len(raws))
	for i := range items {
		items[i].Index = i
	}

	jobs := make(chan int)
	// Buffered for every item so late workers never block after we stop reading.
	ch := make(chan BatchItem, len(raws))

	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				res, err := a.DecideWith(ctx, raws[i], policy, opts)
				ch <- BatchItem{Index: i, Result: res, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range raws {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make([]bool, len(raws))
	remaining := len(raws)
	for remaining > 0 {
		select {
		case out := <-ch:
			items[out.Index] = out
			done[out.Index] = true
			remaining--
		case <-ctx.Done():
			a.logger.Warn("batch evaluation cancelled, returning partial results",
				zap.Int("completed", len(raws)-remaining),
				zap.Int("total", len(raws)),
			)
			for i := range items {
				if !done[i] {
					items[i].Err = ctx.Err()
				}
			}
			remaining = 0
		}
	}

	return items, time.Since(start)
}
