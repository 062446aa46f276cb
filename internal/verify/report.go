package verify

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/fsindex/internal/index"
)

var ErrInvalidPaths = errors.New("index has invalid paths")

type Reason string

const (
	// ReasonWrongCardinality: zero rows (missing) or several rows (duplicate key).
	ReasonWrongCardinality Reason = "wrong cardinality"
	// ReasonFingerprintMismatch: the stored value is not the path's fingerprint.
	ReasonFingerprintMismatch Reason = "fingerprint mismatch"
)

// InvalidPath is a file on disk whose index entry is missing, duplicated
// or wrong.
type InvalidPath struct {
	Path     string
	Reason   Reason
	Rows     int
	Expected string
	Actual   string
}

func (p InvalidPath) Detail() string {
	switch p.Reason {
	case ReasonWrongCardinality:
		return fmt.Sprintf("%s: %d rows", p.Reason, p.Rows)
	case ReasonFingerprintMismatch:
		return fmt.Sprintf("%s: expected %q, actual %q", p.Reason, p.Expected, p.Actual)
	default:
		return string(p.Reason)
	}
}

// Report is the outcome of one verification run.
type Report struct {
	Root       string
	TotalFiles int
	Skipped    int
	Invalid    []InvalidPath
	// Orphans is only filled when the orphan check ran.
	Orphans     []index.Entry
	OrphanCheck bool
	Elapsed     time.Duration
}

// OK reports whether no divergence was found.
func (r *Report) OK() bool {
	return len(r.Invalid) == 0 && len(r.Orphans) == 0
}

// Err returns ErrInvalidPaths when the report has findings.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: %d invalid, %d orphaned", ErrInvalidPaths, len(r.Invalid), len(r.Orphans))
}

// Write prints the report in human readable form.
func (r *Report) Write(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "checked %s files under %s in %s", humanize.Comma(int64(r.TotalFiles)), r.Root, r.Elapsed.Round(time.Millisecond))
	if r.Skipped > 0 {
		fmt.Fprintf(&b, " (%s skipped)", humanize.Comma(int64(r.Skipped)))
	}
	b.WriteString("\n")

	for _, p := range r.Invalid {
		fmt.Fprintf(&b, "INVALID %q (%s)\n", p.Path, p.Detail())
	}
	for _, e := range r.Orphans {
		fmt.Fprintf(&b, "ORPHAN  %q (sha %s, no file on disk)\n", e.RelPath, e.Fingerprint)
	}

	switch {
	case !r.OK():
		fmt.Fprintf(&b, "index may contain insufficient or incorrect data: %s invalid paths",
			humanize.Comma(int64(len(r.Invalid))))
		if r.OrphanCheck {
			fmt.Fprintf(&b, ", %s orphaned entries", humanize.Comma(int64(len(r.Orphans))))
		}
		b.WriteString("\n")
	case r.OrphanCheck:
		b.WriteString("no divergence found\n")
	default:
		b.WriteString("no divergence found (note: entries without a file on disk are not detected by this check)\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
