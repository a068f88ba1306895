// Package orchestrator drives the engine end-to-end: resolve
// configuration, connect, discover topology, run checks in weight
// order, persist findings, emit a report, disconnect. No phase begins
// until the previous one completes.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/dbhealth/internal/accumulator"
	"github.com/evalgo/dbhealth/internal/check"
	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/formatter"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/trendstore"
)

// Plugin is what the orchestrator needs from a technology package: a
// connector factory, its check registry, and the metric extractors its
// checks' findings support.
type Plugin struct {
	Technology string
	NewConnector func(ctx context.Context, target *config.Target, log *obs.ContextLogger) (connector.Connector, error)
	Checks       *check.Registry
	Extractors   []trendstore.MetricExtractor
}

// Report is the final, on-disk-and-in-memory artifact one run produces.
type Report struct {
	Run      model.RunRecord
	Results  []check.RunResult
	Rendered string
}

// Orchestrator runs the full pipeline for one Target against one
// Plugin.
type Orchestrator struct {
	target    *config.Target
	plugin    Plugin
	log       *obs.ContextLogger
	fmt       formatter.AsciiDocFormatter
	outputDir string
}

// New builds an Orchestrator. outputDir is where findings are saved in
// canonical tree form (phase 5); an empty outputDir skips that phase.
func New(target *config.Target, plugin Plugin, outputDir string) *Orchestrator {
	log := obs.RunLogger(uuid.NewString(), target.CompanyName, target.Host)
	return &Orchestrator{target: target, plugin: plugin, log: log, outputDir: outputDir}
}

// Run executes all eight phases. A connector failure at connect time
// aborts immediately (fatal); a trend-store failure degrades the run
// (the report is still produced) and is reported in the returned error
// without discarding already-computed findings.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := o.log.WithField("run_id", runID)

	// Phase 1 is config resolution, already done by the caller (config.Load).
	// Phase 2: instantiate connector, connect.
	conn, err := o.plugin.NewConnector(ctx, o.target, log)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building connector: %w", err)
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("orchestrator: connect failed: %w", err)
	}
	defer func() {
		if derr := conn.Disconnect(ctx); derr != nil {
			log.WithError(derr).Warn("orchestrator: disconnect failed")
		}
	}()

	// Phase 3: topology discovery is plugin-specific and happens inside
	// each connector's Connect; checks read it via the connector.

	// Phase 4: run checks in weight order.
	acc := accumulator.New()
	runner := check.NewRunner(log)
	checks := o.plugin.Checks.Ordered()
	settings := map[string]any{"check_overrides": o.target.CheckOverrides}
	results := runner.Run(ctx, conn, checks, settings, acc)

	var rendered string
	for _, r := range results {
		rendered += string(r.Fragment)
	}

	successful, failed := 0, 0
	for _, r := range results {
		switch r.Finding.Status {
		case model.StatusSuccess, model.StatusWarning:
			successful++
		case model.StatusCritical, model.StatusError:
			failed++
		}
	}

	run := model.RunRecord{
		RunID:            runID,
		Company:          o.target.CompanyName,
		DatabaseTarget:   o.target.Database,
		HostTarget:       o.target.Host,
		Timestamp:        time.Now(),
		TotalChecks:      len(results),
		SuccessfulChecks: successful,
		FailedChecks:     failed,
		DurationSeconds:  time.Since(start).Seconds(),
	}

	// Phase 5: save findings to disk in canonical tree form.
	if o.outputDir != "" {
		if err := o.saveFindings(run, results); err != nil {
			log.WithError(err).Warn("orchestrator: saving findings to disk failed")
		}
	}

	// Phase 6: optional trend persistence. A persistence failure is a
	// run-level error but never invalidates the computed findings: the
	// report is still returned alongside the error.
	var runErr error
	if o.target.TrendStorageEnabled {
		if err := o.persistTrend(run, results, log); err != nil {
			log.WithError(err).Warn("orchestrator: trend persistence failed")
			runErr = fmt.Errorf("orchestrator: trend persistence failed: %w", err)
		}
	}

	// Phase 7: formatter/report emission happens via the returned Report;
	// callers (CLI) choose where it goes. Phase 8 (disconnect) runs via
	// the deferred call above.

	return &Report{Run: run, Results: results, Rendered: rendered}, runErr
}

func (o *Orchestrator) saveFindings(run model.RunRecord, results []check.RunResult) error {
	dir := filepath.Join(o.outputDir, run.Company, run.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	runPath := filepath.Join(dir, "run.json")
	runBytes, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	if err := os.WriteFile(runPath, runBytes, 0o644); err != nil {
		return fmt.Errorf("writing run record: %w", err)
	}

	for _, r := range results {
		findingPath := filepath.Join(dir, r.CheckName+".json")
		findingBytes, err := json.MarshalIndent(r.Finding, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling finding %s: %w", r.CheckName, err)
		}
		if err := os.WriteFile(findingPath, findingBytes, 0o644); err != nil {
			return fmt.Errorf("writing finding %s: %w", r.CheckName, err)
		}
	}
	return nil
}

func (o *Orchestrator) persistTrend(run model.RunRecord, results []check.RunResult, log *obs.ContextLogger) error {
	store, err := trendstore.Open(o.target.TrendDatabase, o.target.CompanyName, log)
	if err != nil {
		return err
	}
	defer store.Close()

	findings := make([]trendstore.NamedFindingInput, 0, len(results))
	for _, r := range results {
		findings = append(findings, trendstore.NamedFindingInput{CheckName: r.CheckName, Finding: r.Finding})
	}

	extractors := append(trendstore.CommonExtractors(), o.plugin.Extractors...)
	return store.WriteRun(run, findings, extractors)
}
