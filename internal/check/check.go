// Package check implements the check registry and runner: checks are
// cataloged, weight-ordered, and executed, with engine-level faults
// caught and turned into error findings rather than aborting the run.
package check

import (
	"context"
	"fmt"
	"sort"

	"github.com/evalgo/dbhealth/internal/accumulator"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
)

// Fragment is the rendered report text a check contributes, separate
// from its structured Finding.
type Fragment string

// Func is the check contract: given the connector, resolved settings,
// and the findings accumulated so far this run, produce a report
// fragment and a structured finding. Every check receives the prior
// findings view; stateless checks simply ignore it. Implementations
// must not raise for data-quality problems (return a
// warning/critical/error/skipped finding instead); they may return an
// error for engine-level faults, which the Runner converts into a
// status=error finding without aborting the run.
type Func func(ctx context.Context, conn connector.Connector, settings map[string]any, prior accumulator.View) (Fragment, model.Finding, error)

// Check is one catalogued, weight-ordered unit of work.
type Check struct {
	Name    string
	Section string
	Weight  int // 1-10, descending execution order; higher runs first
	Run     Func
}

// Registry catalogs checks for one plugin and returns them in the
// weight-ordered, declaration-stable sequence the Runner requires.
type Registry struct {
	checks []Check
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds a check; declaration order is preserved as the
// tiebreaker for equal weights.
func (r *Registry) Register(c Check) {
	r.checks = append(r.checks, c)
}

// Ordered returns checks sorted by descending weight, stable on ties so
// that equal-weight checks run in declaration order: weight 10 critical
// checks before weight 1 cosmetic ones.
func (r *Registry) Ordered() []Check {
	ordered := make([]Check, len(r.checks))
	copy(ordered, r.checks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight > ordered[j].Weight
	})
	return ordered
}

// Runner executes a registry's checks against one connected connector,
// accumulating findings and fragments.
type Runner struct {
	log *obs.ContextLogger
}

// NewRunner builds a Runner.
func NewRunner(log *obs.ContextLogger) *Runner {
	return &Runner{log: log}
}

// RunResult is one check's outcome after the Runner has normalized
// panics/errors into a finding.
type RunResult struct {
	CheckName string
	Section   string
	Fragment  Fragment
	Finding   model.Finding
}

// Run executes every check in the registry's weight order, guaranteeing
// that a check's prior argument sees every finding set by an
// earlier-weight check in this same call. Engine-level panics and
// returned errors become {status: error} findings; the run never
// aborts because of a single check's failure.
func (r *Runner) Run(ctx context.Context, conn connector.Connector, checks []Check, settings map[string]any, acc *accumulator.Accumulator) []RunResult {
	results := make([]RunResult, 0, len(checks))

	for _, c := range checks {
		fragment, finding := r.runOne(ctx, conn, c, settings, acc)
		acc.Set(c.Name, finding)
		results = append(results, RunResult{CheckName: c.Name, Section: c.Section, Fragment: fragment, Finding: finding})
	}

	return results
}

func (r *Runner) runOne(ctx context.Context, conn connector.Connector, c Check, settings map[string]any, acc *accumulator.Accumulator) (fragment Fragment, finding model.Finding) {
	log := r.log.WithCheck(c.Name)

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", fmt.Sprintf("%v", rec)).Error("check panicked; recording as error finding")
			finding = model.Finding{
				Status:       model.StatusError,
				Message:      fmt.Sprintf("check %s panicked", c.Name),
				ErrorMessage: fmt.Sprintf("%v", rec),
			}
		}
	}()

	frag, f, err := c.Run(ctx, conn, settings, acc.View())
	if err != nil {
		log.WithError(err).Warn("check returned engine-level error")
		return "", model.Finding{
			Status:       model.StatusError,
			Message:      fmt.Sprintf("check %s failed", c.Name),
			ErrorMessage: err.Error(),
		}
	}

	if valErr := f.Validate(); valErr != nil {
		log.WithError(valErr).Error("check produced an invalid finding envelope")
		return "", model.Finding{
			Status:       model.StatusError,
			Message:      fmt.Sprintf("check %s produced an invalid finding", c.Name),
			ErrorMessage: valErr.Error(),
		}
	}

	return frag, f
}
