package review

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// StatusInvalid marks a report for a request that was never run.
const StatusInvalid = "invalid"

// ReviewAll reviews reqs with at most concurrency reviews in flight. Each
// review owns its execution context; nothing is shared between them.
// Reports are returned in request order. Invalid requests get a report
// carrying the error instead of stopping the batch.
func (a *Assistant) ReviewAll(ctx context.Context, reqs []Request, concurrency int) ([]*Report, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	reports := make([]*Report, len(reqs))
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			report, err := a.Review(ctx, req)
			if err != nil {
				report = &Report{
					Target: sanitizeTarget(req.Target),
					Status: StatusInvalid,
					Error:  err.Error(),
					Err:    err,
				}
			}
			reports[i] = report
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, ctx.Err()
}
