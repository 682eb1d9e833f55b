// Package dirty tracks whether a live document has drifted from the last
// baseline the backend confirmed.
package dirty

import (
	"sync"

	"github.com/arrdeck/arrdeck/internal/document"
)

// Tracker holds a baseline and compares live snapshots against it.
type Tracker struct {
	mu       sync.Mutex
	schema   *document.Schema
	baseline *document.Document
	forced   bool
}

// New creates an unarmed tracker for schema.
func New(schema *document.Schema) *Tracker {
	return &Tracker{schema: schema}
}

// Arm stores a deep copy of baseline and clears any forced dirty flag.
func (t *Tracker) Arm(baseline *document.Document) {
	t.mu.Lock()
	t.baseline = baseline.Clone()
	t.forced = false
	t.mu.Unlock()
}

// ReArm replaces the baseline after a successful save.
func (t *Tracker) ReArm(baseline *document.Document) {
	t.Arm(baseline)
}

// Armed reports whether a baseline has been stored.
func (t *Tracker) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseline != nil
}

// MarkDirtyImmediately forces IsDirty to report true until the next Arm.
func (t *Tracker) MarkDirtyImmediately() {
	t.mu.Lock()
	t.forced = true
	t.mu.Unlock()
}

// IsDirty reports whether live differs from the baseline.
func (t *Tracker) IsDirty(live *document.Document) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.forced {
		return true
	}
	if t.baseline == nil {
		return false
	}
	return !Equal(t.schema, t.baseline, live)
}

// Changes lists the paths where live differs from the baseline.
func (t *Tracker) Changes(live *document.Document) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.baseline == nil {
		return nil
	}
	return Diff(t.schema, t.baseline, live)
}

// Baseline returns a deep copy of the baseline, or nil when unarmed.
func (t *Tracker) Baseline() *document.Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseline.Clone()
}
