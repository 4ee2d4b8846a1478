package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Submission  SubmissionConfig  `mapstructure:"submission" validate:"required"`
	Catalog     CatalogConfig     `mapstructure:"catalog" validate:"required"`
	Paths       PathsConfig       `mapstructure:"paths" validate:"required"`
	Service     ServiceConfig     `mapstructure:"service" validate:"required"`
	Estimator   EstimatorConfig   `mapstructure:"estimator" validate:"required"`
	Log         LogConfig         `mapstructure:"log" validate:"required"`
	Status      StatusConfig      `mapstructure:"status"`
	ResultStore ResultStoreConfig `mapstructure:"result_store" validate:"required"`
}

// SubmissionConfig controls admission and the submission loop cadence.
type SubmissionConfig struct {
	// CapacityCeiling is the maximum outstanding cost across ACTIVE batches.
	CapacityCeiling int `mapstructure:"capacity_ceiling" validate:"required,gt=0"`
	// MaxItemsPerBatch caps the number of job requests in one batch.
	MaxItemsPerBatch int `mapstructure:"max_items_per_batch" validate:"required,gt=0"`
	// PollInterval is the sleep between loop iterations.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
	// MaxIterations bounds the loop; zero means run until done.
	MaxIterations int `mapstructure:"max_iterations" validate:"gte=0"`
}

// CatalogConfig controls how the work catalog is built.
type CatalogConfig struct {
	// Limit truncates the catalog; zero or negative keeps every candidate.
	Limit int `mapstructure:"limit"`
	// Sample shuffles candidates before truncating to Limit.
	Sample bool `mapstructure:"sample"`
	// Seed makes sampling reproducible; zero uses the current time.
	Seed         int64  `mapstructure:"seed"`
	Extension    string `mapstructure:"extension" validate:"required,startswith=."`
	MarkerSuffix string `mapstructure:"marker_suffix" validate:"required"`
}

// PathsConfig contains every directory the processes read or write.
type PathsConfig struct {
	SourceDir       string `mapstructure:"source_dir" validate:"required"`
	MarkerDir       string `mapstructure:"marker_dir"`
	StateDir        string `mapstructure:"state_dir" validate:"required"`
	ResultsDir      string `mapstructure:"results_dir" validate:"required"`
	InstructionFile string `mapstructure:"instruction_file" validate:"required"`
}

// SubmissionStateFile is the submission loop's state document.
func (p PathsConfig) SubmissionStateFile() string {
	return filepath.Join(p.StateDir, "submission_state.json")
}

// ProcessedBatchesFile is the reconciler's processed-batch set.
func (p PathsConfig) ProcessedBatchesFile() string {
	return filepath.Join(p.ResultsDir, "processed_batches.json")
}

// ResultStoreFile is the merged result store.
func (p PathsConfig) ResultStoreFile() string {
	return filepath.Join(p.ResultsDir, "merged_results.json")
}

// ErrorLogFile is the default append-only error log.
func (p PathsConfig) ErrorLogFile() string {
	return filepath.Join(p.StateDir, "error_log.txt")
}

// ReconcileLockFile guards against overlapping reconciler runs.
func (p PathsConfig) ReconcileLockFile() string {
	return filepath.Join(p.ResultsDir, ".reconcile.lock")
}

// DryRunDir holds the request and status files of the dry-run backend.
func (p PathsConfig) DryRunDir() string {
	return filepath.Join(p.StateDir, "dryrun")
}

// Service backends
const (
	BackendGemini = "gemini"
	BackendDryRun = "dry-run"
)

// ServiceConfig contains settings for the batch-execution service.
type ServiceConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=gemini dry-run"`
	APIKey  string `mapstructure:"api_key" validate:"required_if=Backend gemini"`
	Model   string `mapstructure:"model" validate:"required"`
	// RequestsPerSecond paces every call made to the service.
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	// DryRunPolls is how many status polls a dry-run batch stays active.
	DryRunPolls int `mapstructure:"dry_run_polls" validate:"gte=0"`
}

// Estimator kinds
const (
	EstimatorGemini    = "gemini"
	EstimatorHeuristic = "heuristic"
)

// EstimatorConfig selects the cost estimator.
type EstimatorConfig struct {
	Kind          string `mapstructure:"kind" validate:"required,oneof=gemini heuristic"`
	BytesPerToken int    `mapstructure:"bytes_per_token" validate:"gt=0"`
}

// ErrorLogOff disables the append-only error log.
const ErrorLogOff = "off"

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	// ErrorLog is an append-only file receiving every error-level record.
	// Empty means <state_dir>/error_log.txt; ErrorLogOff disables it.
	ErrorLog string `mapstructure:"error_log"`
}

// StatusConfig controls the optional progress endpoint.
type StatusConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Result store drivers
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// ResultStoreConfig selects where merged results are kept.
type ResultStoreConfig struct {
	Driver      string `mapstructure:"driver" validate:"required,oneof=file postgres"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Driver postgres,omitempty,url"`
}
