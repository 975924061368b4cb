// Package changemap implements the per-resource sequence of changes that
// quixbyte accumulates between synchronization rounds: Change, the
// per-resource ChangeMap, and the merge and minification algorithms that
// keep it small and mergeable across devices.
package changemap

import (
	"fmt"

	"github.com/nicolagi/quixbyte/internal/diffx"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
)

// Kind identifies what a Change did to a resource.
type Kind uint8

const (
	// Create marks a resource as having come into existence.
	Create Kind = iota
	// Delete marks a resource as having been removed.
	Delete
	// UpdateText carries a line diff applied to the resource's previous
	// text content.
	UpdateText
	// UpdateBinary carries the resource's full new content, used when the
	// content does not look like text.
	UpdateBinary
	// RenameTo is the destination half of a rename; it shares its
	// timestamp with the RenameFrom change for the source path.
	RenameTo
	// RenameFrom is the source half of a rename.
	RenameFrom
	// CopyTo is the destination half of a copy; it shares its timestamp
	// with the CopyFrom change for the source path.
	CopyTo
	// CopyFrom is the source half of a copy.
	CopyFrom
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Delete:
		return "delete"
	case UpdateText:
		return "update-text"
	case UpdateBinary:
		return "update-binary"
	case RenameTo:
		return "rename-to"
	case RenameFrom:
		return "rename-from"
	case CopyTo:
		return "copy-to"
	case CopyFrom:
		return "copy-from"
	default:
		return "unknown"
	}
}

// IsExternal reports whether other changes depend on this one being kept
// around: the "…From" half of a rename or copy must survive minification
// until its paired "…To" half has been accounted for, because applying
// one half without the other would lose data.
func (k Kind) IsExternal() bool {
	return k == RenameFrom || k == CopyFrom
}

// Change describes one modification to one resource, stamped with the
// unique timestamp it was recorded at.
type Change struct {
	Timestamp qbtime.Timestamp
	Kind      Kind

	// Diff is populated for UpdateText.
	Diff diffx.Diff
	// Content is populated for UpdateBinary: the new file content.
	Content []byte
	// Peer is populated for RenameTo/RenameFrom/CopyTo/CopyFrom: the path
	// on the other side of the pair.
	Peer qbpath.Path
}

func (c Change) String() string {
	return fmt.Sprintf("%s@%s", c.Kind, c.Timestamp)
}

// Entry pairs a Change with whether it originated locally, matching the
// Rust source's QBChangeMap::Entry so that Changes() can filter to the
// remote-only deltas a merge round needs to ship.
type Entry struct {
	IsLocal bool
	Change  Change
}
