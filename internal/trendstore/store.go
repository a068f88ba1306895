package trendstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
)

// PersistenceError wraps a write-protocol failure so the orchestrator
// can distinguish trend-store faults (which degrade the run without
// aborting it) from connector/engine faults.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("trendstore: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the schema-per-tenant trend database handle.
type Store struct {
	db         *gorm.DB
	schemaName string
	log        *obs.ContextLogger
}

// Open connects to the trend database, sanitizes the tenant's schema
// name, and ensures the schema plus its tables exist. DDL is applied
// idempotently so repeated Opens for the same tenant are safe.
func Open(cfg config.TrendDatabaseConfig, tenant string, log *obs.ContextLogger) (*Store, error) {
	schemaName, err := SanitizeSchemaName(tenant)
	if err != nil {
		return nil, &PersistenceError{Op: "sanitize schema name", Err: err}
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, &PersistenceError{Op: "connect", Err: err}
	}

	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		return nil, &PersistenceError{Op: "create schema", Err: err}
	}

	if err := db.Exec(fmt.Sprintf("SET search_path TO %q, public", schemaName)).Error; err != nil {
		return nil, &PersistenceError{Op: "set search_path", Err: err}
	}

	if err := db.AutoMigrate(&HealthCheckRun{}, &ModuleFinding{}, &TrendMetric{}); err != nil {
		return nil, &PersistenceError{Op: "automigrate", Err: err}
	}

	return &Store{db: db, schemaName: schemaName, log: log}, nil
}

// MetricExtractor pulls one or more named, unit-tagged metrics out of a
// single check's finding data. The extraction table is data-driven: new
// extractors register without the writer core changing.
type MetricExtractor func(checkName string, finding model.Finding) []TrendMetric

// WriteRun persists one run's record and every accumulated finding in a
// single transaction: run row, then findings, then extracted metrics,
// then commit. Any failure rolls back the entire run and is reported as
// a *PersistenceError.
func (s *Store) WriteRun(run model.RunRecord, findings []NamedFindingInput, extractors []MetricExtractor) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		runRow := HealthCheckRun{
			RunID:            run.RunID,
			Company:          run.Company,
			Database:         run.DatabaseTarget,
			Host:             run.HostTarget,
			Timestamp:        run.Timestamp,
			TargetVersion:    run.TargetVersion,
			TotalChecks:      run.TotalChecks,
			SuccessfulChecks: run.SuccessfulChecks,
			FailedChecks:     run.FailedChecks,
			AIStatus:         run.AIStatus,
			AIModel:          run.AIModel,
			DurationSeconds:  run.DurationSeconds,
		}
		if err := tx.Create(&runRow).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		for _, nf := range findings {
			dataJSON, err := json.Marshal(nf.Finding.Data)
			if err != nil {
				return fmt.Errorf("marshaling finding data for %s: %w", nf.CheckName, err)
			}

			row := ModuleFinding{
				RunID:         run.RunID,
				CheckName:     nf.CheckName,
				Status:        string(nf.Finding.Status),
				SeverityLevel: severityLevel(nf.Finding.Severity),
				SeverityScore: nf.Finding.Severity,
				DataJSON:      string(dataJSON),
				ErrorMessage:  nf.Finding.ErrorMessage,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("inserting finding for %s: %w", nf.CheckName, err)
			}

			for _, extract := range extractors {
				for _, metric := range extract(nf.CheckName, nf.Finding) {
					metric.RunID = run.RunID
					if err := tx.Create(&metric).Error; err != nil {
						return fmt.Errorf("inserting metric %s for %s: %w", metric.MetricName, nf.CheckName, err)
					}
				}
			}
		}

		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "write run", Err: err}
	}
	return nil
}

// NamedFindingInput is the (checkName, finding) pair WriteRun consumes,
// matching accumulator.NamedFinding's shape without importing it
// directly (trendstore stays a leaf package).
type NamedFindingInput struct {
	CheckName string
	Finding   model.Finding
}

func severityLevel(score int) string {
	switch {
	case score >= 8:
		return "critical"
	case score >= 5:
		return "warning"
	case score > 0:
		return "info"
	default:
		return "none"
	}
}

// GetRunFindings reads back every finding persisted for one run, in
// insertion order, so a run's stored findings can be compared against
// what the accumulator produced.
func (s *Store) GetRunFindings(runID string) ([]ModuleFinding, error) {
	var rows []ModuleFinding
	if err := s.db.Where("run_id = ?", runID).Order("finding_id asc").Find(&rows).Error; err != nil {
		return nil, &PersistenceError{Op: "query findings", Err: err}
	}
	return rows, nil
}

// TrendDirection classifies how a metric moved across a window.
type TrendDirection string

const (
	TrendIncreasing       TrendDirection = "increasing"
	TrendDecreasing       TrendDirection = "decreasing"
	TrendStable           TrendDirection = "stable"
	TrendInsufficientData TrendDirection = "insufficient_data"
)

// RunTrends summarizes run-level outcomes across the analyzed window.
type RunTrends struct {
	Total       int
	Successful  int
	Failed      int
	AvgDuration float64
}

// MetricTrend summarizes one metric's history across the analyzed
// window.
type MetricTrend struct {
	Values    []float64
	Unit      string
	Direction TrendDirection
	Min       float64
	Max       float64
	Avg       float64
}

// TrendAnalysis is GetTrendAnalysis's full result.
type TrendAnalysis struct {
	RunsAnalyzed int
	RunTrends    RunTrends
	MetricTrends map[string]MetricTrend
}

// GetTrendAnalysis reads runs within the trailing daysBack window and
// classifies each requested metric's trend by comparing the mean of the
// first half of its values to the second half: >+10% is increasing,
// <-10% is decreasing, otherwise stable. Fewer than two data points
// yields insufficient_data. An empty metricNames reads every metric
// name seen in the window.
func (s *Store) GetTrendAnalysis(daysBack int, metricNames []string) (*TrendAnalysis, error) {
	since := time.Now().AddDate(0, 0, -daysBack)

	var runs []HealthCheckRun
	if err := s.db.Where("timestamp >= ?", since).Order("timestamp asc").Find(&runs).Error; err != nil {
		return nil, &PersistenceError{Op: "query runs", Err: err}
	}

	rt := RunTrends{Total: len(runs)}
	var durationSum float64
	for _, r := range runs {
		if r.FailedChecks == 0 {
			rt.Successful++
		} else {
			rt.Failed++
		}
		durationSum += r.DurationSeconds
	}
	if len(runs) > 0 {
		rt.AvgDuration = durationSum / float64(len(runs))
	}

	query := s.db.Model(&TrendMetric{}).
		Joins("JOIN health_check_runs ON health_check_runs.run_id = trend_metrics.run_id").
		Where("health_check_runs.timestamp >= ?", since).
		Order("trend_metrics.created_at asc")
	if len(metricNames) > 0 {
		query = query.Where("trend_metrics.metric_name IN ?", metricNames)
	}

	var rows []TrendMetric
	if err := query.Find(&rows).Error; err != nil {
		return nil, &PersistenceError{Op: "query metrics", Err: err}
	}

	byName := make(map[string][]TrendMetric)
	for _, row := range rows {
		byName[row.MetricName] = append(byName[row.MetricName], row)
	}

	metricTrends := make(map[string]MetricTrend, len(byName))
	for name, series := range byName {
		metricTrends[name] = classifyTrend(series)
	}

	return &TrendAnalysis{RunsAnalyzed: len(runs), RunTrends: rt, MetricTrends: metricTrends}, nil
}

func classifyTrend(series []TrendMetric) MetricTrend {
	values := make([]float64, len(series))
	var min, max, sum float64
	for i, row := range series {
		values[i] = row.MetricValue
		if i == 0 || row.MetricValue < min {
			min = row.MetricValue
		}
		if i == 0 || row.MetricValue > max {
			max = row.MetricValue
		}
		sum += row.MetricValue
	}

	trend := MetricTrend{Values: values, Min: min, Max: max}
	if len(series) > 0 {
		trend.Unit = series[0].MetricUnit
		trend.Avg = sum / float64(len(series))
	}

	if len(values) < 2 {
		trend.Direction = TrendInsufficientData
		return trend
	}

	mid := len(values) / 2
	firstHalf, secondHalf := values[:mid], values[mid:]
	firstMean := mean(firstHalf)
	secondMean := mean(secondHalf)

	if firstMean == 0 {
		if secondMean == 0 {
			trend.Direction = TrendStable
		} else {
			trend.Direction = TrendIncreasing
		}
		return trend
	}

	change := (secondMean - firstMean) / firstMean
	switch {
	case change > 0.10:
		trend.Direction = TrendIncreasing
	case change < -0.10:
		trend.Direction = TrendDecreasing
	default:
		trend.Direction = TrendStable
	}
	return trend
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// DB exposes the underlying *gorm.DB for callers (tests, migrations
// tooling) that need direct schema access beyond WriteRun/GetTrendAnalysis.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &PersistenceError{Op: "close", Err: err}
	}
	return sqlDB.Close()
}
