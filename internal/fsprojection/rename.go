package fsprojection

import (
	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
)

// Batch is one round's worth of changes to apply, keyed by the resource
// each change applies to.
type Batch map[qbpath.Resource][]changemap.Change

// pendingHalf is an unpaired rename/copy half waiting for its partner,
// keyed by timestamp (the two halves of a pair always share one).
type pendingHalf struct {
	resource qbpath.Resource
	change   changemap.Change
}

// PendingPairs buffers orphan "…To" halves of renames and copies until
// their "…From" half arrives, since ChangeMap.Merge can split the two
// halves of a pair across different sync batches. Per this
// specification's resolution of that scenario: applying a "…To" without
// its "…From" is deferred rather than failing the whole batch.
type PendingPairs struct {
	byTimestamp map[qbtime.Timestamp][]pendingHalf
}

// NewPendingPairs returns an empty buffer.
func NewPendingPairs() *PendingPairs {
	return &PendingPairs{byTimestamp: make(map[qbtime.Timestamp][]pendingHalf)}
}

// Resolve walks batch, pairs up RenameFrom/RenameTo and CopyFrom/CopyTo
// entries that share a timestamp, and returns the batch rewritten to
// concrete Create/Delete/Update operations plus content carried across
// from the source half. Any half left without its partner (in this batch
// or a previously buffered one) is held in p for a future call.
func (p *PendingPairs) Resolve(batch Batch, tree lookupper) Batch {
	out := make(Batch)

	for resource, changes := range batch {
		for _, c := range changes {
			switch c.Kind {
			case changemap.RenameFrom, changemap.CopyFrom:
				p.byTimestamp[c.Timestamp] = append(p.byTimestamp[c.Timestamp], pendingHalf{resource: resource, change: c})
			case changemap.RenameTo, changemap.CopyTo:
				p.byTimestamp[c.Timestamp] = append(p.byTimestamp[c.Timestamp], pendingHalf{resource: resource, change: c})
			default:
				out[resource] = append(out[resource], c)
			}
		}
	}

	for ts, halves := range p.byTimestamp {
		if len(halves) < 2 {
			continue
		}
		var from, to *pendingHalf
		for i := range halves {
			switch halves[i].change.Kind {
			case changemap.RenameFrom, changemap.CopyFrom:
				from = &halves[i]
			case changemap.RenameTo, changemap.CopyTo:
				to = &halves[i]
			}
		}
		if from == nil || to == nil {
			continue
		}

		isRename := from.change.Kind == changemap.RenameFrom

		if isRename {
			out[from.resource] = append(out[from.resource], changemap.Change{Timestamp: ts, Kind: changemap.Delete})
		}
		out[to.resource] = append(out[to.resource], changemap.Change{Timestamp: ts, Kind: changemap.Create})

		if content, ok := tree.contentOf(from.resource); ok {
			out[to.resource] = append(out[to.resource], changemap.Change{Timestamp: ts, Kind: changemap.UpdateBinary, Content: content})
		}

		delete(p.byTimestamp, ts)
	}

	return out
}

// lookupper is the minimal surface Resolve needs to carry a file's
// content across a rename or copy pair; Projection satisfies it via
// contentOf in fsprojection.go.
type lookupper interface {
	contentOf(qbpath.Resource) ([]byte, bool)
}
