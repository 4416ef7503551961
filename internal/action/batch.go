package action

import (
	"context"
	"strings"

	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/models"
)

// Collection is a Source that can be refreshed after a batch, normally a
// *container.Container.
type Collection interface {
	Source
	Key() string
	Reset()
	Resources() []models.Resource
	SetNumberToFetch(n int)
	ResetNumberToFetch()
	FetchNextPage(ctx context.Context) ([]models.Resource, bool, error)
}

// Item is one resource of a batch with the collection it was selected from.
type Item struct {
	Collection Collection
	Request    Request
}

// ItemResult reports one batch item.
type ItemResult struct {
	Index   int
	Name    string
	Outcome Outcome
	Err     error
	// Skipped is set for items never attempted because the batch was
	// cancelled.
	Skipped bool
}

// BatchResult is the outcome of RunBatch.
type BatchResult struct {
	Items []ItemResult
	// Parents are the keys of every collection refreshed after the batch.
	Parents       []string
	RefreshErrors map[string]error
}

// Failed counts failed or skipped items.
func (b BatchResult) Failed() int {
	n := 0
	for _, it := range b.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// changesVisibleSet reports actions after which the collection may list a
// different number of entries for the same resources.
func changesVisibleSet(action string) bool {
	switch strings.ToUpper(action) {
	case NewCopy, PhaseIn:
		return true
	}
	return false
}

// RunBatch runs items one at a time. A failing item is reported and the
// batch moves on. Cancellation is checked between items. Every collection
// touched is reset and its first page re-read once the batch ends.
func (e *Executor) RunBatch(ctx context.Context, items []Item, until Until, progress func(ItemResult)) BatchResult {
	res := BatchResult{RefreshErrors: map[string]error{}}
	parents := make(map[string]Collection)
	resize := make(map[string]bool)

	for i, it := range items {
		ir := ItemResult{Index: i, Name: it.Request.Target.Name()}
		if err := ctx.Err(); err != nil {
			ir.Err = cmci.Classify(err, errContext(it.Collection, it.Request))
			ir.Skipped = true
			res.Items = append(res.Items, ir)
			if progress != nil {
				progress(ir)
			}
			continue
		}

		ir.Outcome, ir.Err = e.Run(ctx, it.Collection, it.Request, until)
		if ir.Err != nil {
			e.log.Warn().Err(ir.Err).Str("action", it.Request.Action).Str("resource", ir.Name).Msg("batch item failed")
		}
		res.Items = append(res.Items, ir)
		if progress != nil {
			progress(ir)
		}

		key := it.Collection.Key()
		if _, ok := parents[key]; !ok {
			parents[key] = it.Collection
			res.Parents = append(res.Parents, key)
		}
		if ir.Err == nil && changesVisibleSet(it.Request.Action) {
			resize[key] = true
		}
	}

	refreshCtx := context.WithoutCancel(ctx)
	for _, key := range res.Parents {
		c := parents[key]
		if resize[key] {
			if n := len(c.Resources()); n > 0 {
				c.SetNumberToFetch(n)
			}
		}
		c.Reset()
		if _, _, err := c.FetchNextPage(refreshCtx); err != nil {
			res.RefreshErrors[key] = err
			e.log.Warn().Err(err).Str("collection", key).Msg("refresh after batch failed")
		}
		if resize[key] {
			c.ResetNumberToFetch()
		}
	}
	return res
}
