// Package accumulator holds every finding produced during one engine
// run, preserving insertion order so later checks can read earlier
// checks' conclusions and the trend writer can see the full set at run
// end.
package accumulator

import (
	"fmt"
	"sync"

	"github.com/evalgo/dbhealth/internal/model"
)

// DuplicateFindingError reports an attempt to overwrite an existing
// check's finding, an engine-level programming error rather than a
// recoverable condition.
type DuplicateFindingError struct {
	CheckName string
}

func (e *DuplicateFindingError) Error() string {
	return fmt.Sprintf("accumulator: finding for check %q already set", e.CheckName)
}

// Accumulator is the mutable, run-scoped store checks write to.
type Accumulator struct {
	mu     sync.RWMutex
	order  []string
	values map[string]model.Finding
}

// New builds an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{values: make(map[string]model.Finding)}
}

// Set records checkName's finding. Calling it twice for the same
// checkName panics: the Runner recovers engine-level check panics into
// error findings, but a duplicate Set is a defect in the runner or
// check catalog itself, not a data-quality condition to degrade
// gracefully from.
func (a *Accumulator) Set(checkName string, finding model.Finding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.values[checkName]; exists {
		panic(&DuplicateFindingError{CheckName: checkName})
	}
	a.values[checkName] = finding
	a.order = append(a.order, checkName)
}

// Get looks up one check's finding.
func (a *Accumulator) Get(checkName string) (model.Finding, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.values[checkName]
	return f, ok
}

// All returns every finding recorded so far, in insertion order.
func (a *Accumulator) All() []NamedFinding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]NamedFinding, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, NamedFinding{CheckName: name, Finding: a.values[name]})
	}
	return out
}

// NamedFinding pairs a finding with the check name that produced it.
type NamedFinding struct {
	CheckName string
	Finding   model.Finding
}

// View is the read-only handle every check receives as its prior
// findings argument, preventing checks from calling Set on an
// accumulator that is not theirs to mutate.
type View struct {
	acc *Accumulator
}

// View returns a read-only handle onto this accumulator.
func (a *Accumulator) View() View { return View{acc: a} }

// Get looks up one check's finding through the read-only view.
func (v View) Get(checkName string) (model.Finding, bool) { return v.acc.Get(checkName) }

// All returns every finding recorded so far, in insertion order.
func (v View) All() []NamedFinding { return v.acc.All() }
