// Package batch runs many device commands as one request.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/devgate/internal/gateway/core"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/pkg/log"
)

const opBatch = "execute batch"

// Commander executes a single command. *correlator.Correlator satisfies it.
type Commander interface {
	Execute(ctx context.Context, req model.CommandRequest) (*model.CommandResponse, error)
}

// Executor fans a batch out to a Commander. Items addressed to different
// devices run concurrently; items addressed to the same device run one after
// another in input order, so a batch never collides with itself on the
// one-command-per-device rule.
type Executor struct {
	cmd         Commander
	maxItems    int
	concurrency int
	deadline    time.Duration
	log         log.Logger
}

// NewExecutor returns an Executor accepting at most maxItems items per batch
// and commanding at most concurrency devices at once.
func NewExecutor(cmd Commander, maxItems, concurrency int) *Executor {
	if maxItems <= 0 {
		maxItems = 100
	}
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Executor{
		cmd:         cmd,
		maxItems:    maxItems,
		concurrency: concurrency,
		log:         log.WithName("batch"),
	}
}

// WithDeadline bounds the wall time of a whole batch. Items still running
// when it passes fail as timeouts and items not yet started are not sent.
func (e *Executor) WithDeadline(d time.Duration) *Executor {
	e.deadline = d
	return e
}

// Execute runs every item and returns one response per item, in input order.
// Item failures are reported in the responses; the returned error is only set
// when the batch itself is rejected.
func (e *Executor) Execute(ctx context.Context, reqs []model.CommandRequest) ([]*model.CommandResponse, error) {
	if len(reqs) == 0 {
		return nil, core.Errorf(core.KindValidation, opBatch, "", "batch is empty")
	}
	if len(reqs) > e.maxItems {
		return nil, core.Errorf(core.KindValidation, opBatch, "", "batch has %d items, limit is %d", len(reqs), e.maxItems)
	}

	if e.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deadline)
		defer cancel()
	}

	results := make([]*model.CommandResponse, len(reqs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, idx := range groupByDevice(reqs) {
		g.Go(func() error {
			for _, i := range idx {
				results[i] = e.run(ctx, reqs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	e.log.Info("Batch finished", "items", len(reqs), "failed", failed)

	return results, nil
}

func (e *Executor) run(ctx context.Context, req model.CommandRequest) *model.CommandResponse {
	if err := ctx.Err(); err != nil {
		return &model.CommandResponse{
			DeviceID: req.DeviceID,
			Command:  req.Command,
			Err:      core.E(core.KindTimeout, opBatch, req.DeviceID, err),
		}
	}

	resp, err := e.cmd.Execute(ctx, req)
	if resp == nil {
		resp = &model.CommandResponse{DeviceID: req.DeviceID, Command: req.Command}
	}
	if err != nil && resp.Err == nil {
		resp.Err = err
	}
	if resp.Err != nil {
		resp.Success = false
	}
	return resp
}

// groupByDevice returns item indexes grouped per device. Groups are ordered by
// the first appearance of their device and keep input order inside.
func groupByDevice(reqs []model.CommandRequest) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for i, r := range reqs {
		g, ok := pos[r.DeviceID]
		if !ok {
			g = len(groups)
			pos[r.DeviceID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}
