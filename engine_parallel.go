package taintflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runSeeds traverses seeds on a bounded pool of goroutines. Each seed
// writes only its own slot, and results come back in seed order, so the
// outcome does not depend on scheduling.
func (e *Engine) runSeeds(ctx context.Context, w *worklist, seeds []seed) []seedResult {
	results := make([]seedResult, len(seeds))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, s := range seeds {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i].exhausted = true
				return nil
			}
			results[i] = w.run(ctx, s)
			return nil
		})
	}
	// Workers never return an error; a cancelled context shows up as
	// exhausted results instead.
	_ = g.Wait()
	return results
}
