// Package trendstore persists every run and its findings in a
// relational schema, one PostgreSQL schema per tenant, and answers
// retrospective trend queries. Built on gorm.io/gorm over
// gorm.io/driver/postgres.
package trendstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// HealthCheckRun is one persisted engine run.
type HealthCheckRun struct {
	RunID            string    `gorm:"primaryKey;column:run_id"`
	Company          string    `gorm:"column:company;index:idx_runs_company_timestamp,priority:1"`
	Database         string    `gorm:"column:database"`
	Host             string    `gorm:"column:host"`
	Timestamp        time.Time `gorm:"column:timestamp;index:idx_runs_company_timestamp,priority:2"`
	TargetVersion    string    `gorm:"column:target_version"`
	TotalChecks      int       `gorm:"column:total_checks"`
	SuccessfulChecks int       `gorm:"column:successful_checks"`
	FailedChecks     int       `gorm:"column:failed_checks"`
	AIStatus         *string   `gorm:"column:ai_status"`
	AIModel          *string   `gorm:"column:ai_model"`
	DurationSeconds  float64   `gorm:"column:duration_seconds"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`

	// Findings and Metrics are declared purely to carry the association's
	// foreign-key constraint so deleting a run cascades; WriteRun inserts
	// child rows directly and never populates these slices.
	Findings []ModuleFinding `gorm:"foreignKey:RunID;references:RunID;constraint:OnDelete:CASCADE"`
	Metrics  []TrendMetric   `gorm:"foreignKey:RunID;references:RunID;constraint:OnDelete:CASCADE"`
}

func (HealthCheckRun) TableName() string { return "health_check_runs" }

// ModuleFinding is one check's persisted finding for a run.
type ModuleFinding struct {
	FindingID     uint      `gorm:"primaryKey;autoIncrement;column:finding_id"`
	RunID         string    `gorm:"column:run_id;index:idx_findings_run_check,priority:1"`
	CheckName     string    `gorm:"column:check_name;index:idx_findings_run_check,priority:2"`
	Status        string    `gorm:"column:status"`
	SeverityLevel string    `gorm:"column:severity_level"`
	SeverityScore int       `gorm:"column:severity_score"`
	DataJSON      string    `gorm:"column:data_json;type:jsonb"`
	ErrorMessage  string    `gorm:"column:error_message"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ModuleFinding) TableName() string { return "module_findings" }

// TrendMetric is one extracted numeric metric for a run, used for
// retrospective time-series queries.
type TrendMetric struct {
	MetricID          uint      `gorm:"primaryKey;autoIncrement;column:metric_id"`
	RunID             string    `gorm:"column:run_id;index:idx_metrics_run_name,priority:1"`
	MetricName        string    `gorm:"column:metric_name;index:idx_metrics_run_name,priority:2"`
	MetricValue       float64   `gorm:"column:metric_value"`
	MetricUnit        string    `gorm:"column:metric_unit"`
	MetricCategory    string    `gorm:"column:metric_category"`
	MetricDescription string    `gorm:"column:metric_description"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (TrendMetric) TableName() string { return "trend_metrics" }

var identifierSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
var repeatedUnderscoreRe = regexp.MustCompile(`_+`)

// SanitizeSchemaName normalizes a tenant name into a safe, deterministic
// PostgreSQL schema identifier: lowercase, non-alphanumerics collapsed
// to a single underscore, truncated to PostgreSQL's 63-byte identifier
// limit. It is idempotent: sanitizing an already-sanitized name returns
// it unchanged.
func SanitizeSchemaName(tenant string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(tenant))
	if lowered == "" {
		return "", fmt.Errorf("trendstore: tenant name must not be empty")
	}

	replaced := identifierSanitizeRe.ReplaceAllString(lowered, "_")
	collapsed := repeatedUnderscoreRe.ReplaceAllString(replaced, "_")
	trimmed := strings.Trim(collapsed, "_")
	if trimmed == "" {
		return "", fmt.Errorf("trendstore: tenant name %q sanitizes to empty identifier", tenant)
	}

	const maxIdentifierLen = 63
	if len(trimmed) > maxIdentifierLen {
		// the cut can land on an underscore; re-trim so the result
		// sanitizes to itself
		trimmed = strings.TrimRight(trimmed[:maxIdentifierLen], "_")
	}

	// PostgreSQL identifiers may not start with a digit.
	if trimmed[0] >= '0' && trimmed[0] <= '9' {
		trimmed = "t_" + trimmed
		if len(trimmed) > maxIdentifierLen {
			trimmed = strings.TrimRight(trimmed[:maxIdentifierLen], "_")
		}
	}

	return trimmed, nil
}
