package indexer

import (
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/fsindex/internal/utils"
)

// AnyExtension in the allow-list disables extension filtering.
const AnyExtension = "*"

// DefaultExtensions are the office, image and archive types indexed when no
// allow-list is configured.
var DefaultExtensions = []string{
	"rtf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "pdf",
	"bmp", "jpg", "jpeg", "gif", "png", "zip",
}

// SQLite writes these next to the database file.
var storeSidecarSuffixes = []string{"", "-wal", "-shm", "-journal"}

// Reason says why a path or event was ignored.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonDirectory   Reason = "directory"
	ReasonStoreFile   Reason = "index store file"
	ReasonOutsideRoot Reason = "outside watched root"
	ReasonIgnoreRule  Reason = "ignore rule"
	ReasonExtension   Reason = "extension not allowed"
	ReasonUnknownKind Reason = "unknown event kind"
)

// OpKind is a single index mutation.
type OpKind int

const (
	OpUpsert OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "upsert"
}

// Op is one store primitive to apply, keyed by the path relative to root.
type Op struct {
	Kind    OpKind
	Path    string
	RelPath string
}

// Decision is the outcome of classifying an event: either a list of ops
// (Actionable) or an ignore reason. A move yields up to two ops, the delete
// of the source always before the upsert of the destination.
type Decision struct {
	Event  Event
	Ops    []Op
	Reason Reason
}

func (d Decision) Actionable() bool {
	return len(d.Ops) > 0
}

// Classifier filters raw events down to the ones that mutate the index.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	root       string
	storeFiles mapset.Set[string]
	extensions mapset.Set[string]
	anyExt     bool
	ignore     *IgnoreList
}

type ClassifierOption func(*Classifier)

// WithStorePath excludes the index store's backing file (and its SQLite
// sidecars) from indexing.
func WithStorePath(path string) ClassifierOption {
	return func(c *Classifier) {
		path = filepath.Clean(path)
		for _, suffix := range storeSidecarSuffixes {
			c.storeFiles.Add(path + suffix)
		}
	}
}

// WithExtensions replaces the extension allow-list. Entries may carry a
// leading dot and are matched case-insensitively.
func WithExtensions(exts ...string) ClassifierOption {
	return func(c *Classifier) {
		c.extensions = extensionSet(exts)
		c.anyExt = c.extensions.Contains(AnyExtension)
	}
}

func WithIgnoreList(ignore *IgnoreList) ClassifierOption {
	return func(c *Classifier) {
		c.ignore = ignore
	}
}

// NewClassifier builds a classifier for the tree rooted at root, which must
// be an absolute path.
func NewClassifier(root string, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		root:       filepath.Clean(root),
		storeFiles: mapset.NewThreadUnsafeSet[string](),
		extensions: extensionSet(DefaultExtensions),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the directory paths are made relative to.
func (c *Classifier) Root() string {
	return c.root
}

// Classify decides what an event means for the index.
func (c *Classifier) Classify(ev Event) Decision {
	d := Decision{Event: ev}
	if ev.IsDir {
		d.Reason = ReasonDirectory
		return d
	}

	switch ev.Kind {
	case Created, Modified:
		if rel, reason := c.Check(ev.Path); reason == ReasonNone {
			d.Ops = append(d.Ops, Op{Kind: OpUpsert, Path: ev.Path, RelPath: rel})
		} else {
			d.Reason = reason
		}
	case Deleted:
		if rel, reason := c.Check(ev.Path); reason == ReasonNone {
			d.Ops = append(d.Ops, Op{Kind: OpDelete, Path: ev.Path, RelPath: rel})
		} else {
			d.Reason = reason
		}
	case Moved:
		// source and destination are judged on their own
		srcRel, srcReason := c.Check(ev.Path)
		if srcReason == ReasonNone {
			d.Ops = append(d.Ops, Op{Kind: OpDelete, Path: ev.Path, RelPath: srcRel})
		}
		dstRel, dstReason := c.Check(ev.Dest)
		if dstReason == ReasonNone {
			d.Ops = append(d.Ops, Op{Kind: OpUpsert, Path: ev.Dest, RelPath: dstRel})
		}
		if !d.Actionable() {
			d.Reason = dstReason
		}
	default:
		d.Reason = ReasonUnknownKind
	}

	return d
}

// Check applies the per-path rules in order: store files, paths outside
// the root (including the root itself), ignore rules, extension allow-list.
// It returns the relative path when the path is indexable.
func (c *Classifier) Check(path string) (string, Reason) {
	path = filepath.Clean(path)
	if c.storeFiles.Contains(path) {
		return "", ReasonStoreFile
	}

	rel, err := utils.RelPath(c.root, path)
	if err != nil {
		return "", ReasonOutsideRoot
	}

	if c.ignore.ShouldIgnore(rel) {
		return "", ReasonIgnoreRule
	}

	if !c.anyExt && !c.extensions.Contains(extensionOf(path)) {
		return "", ReasonExtension
	}

	return rel, ReasonNone
}

// Allowed reports whether a regular file at path would be indexed.
func (c *Classifier) Allowed(path string) bool {
	_, reason := c.Check(path)
	return reason == ReasonNone
}

// Extensions returns the normalized allow-list.
func (c *Classifier) Extensions() []string {
	return mapset.Sorted(c.extensions)
}

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// NormalizeExtensions accepts "pdf", ".pdf", " PDF " and comma separated
// lists. It returns lower-case extensions without the dot, blanks and
// repeats dropped, in first-seen order.
func NormalizeExtensions(exts ...string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string
	for _, item := range exts {
		for _, ext := range strings.Split(item, ",") {
			ext = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
			if ext != "" && seen.Add(ext) {
				out = append(out, ext)
			}
		}
	}
	return out
}

func extensionSet(exts []string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(NormalizeExtensions(exts...)...)
}
