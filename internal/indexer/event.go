// Package indexer decides which filesystem notifications matter to the file
// index and applies them to it.
package indexer

import "fmt"

// EventKind is the closed set of notifications the synchronizer understands.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
	Moved
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is one filesystem notification. Paths are absolute.
// Dest is only set for Moved.
type Event struct {
	Kind  EventKind
	Path  string
	Dest  string
	IsDir bool
}

func (e Event) String() string {
	if e.Kind == Moved {
		return fmt.Sprintf("%s %q -> %q", e.Kind, e.Path, e.Dest)
	}
	return fmt.Sprintf("%s %q", e.Kind, e.Path)
}
