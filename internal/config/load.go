package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// BATCHFLOW_SUBMISSION_CAPACITY_CEILING.
const EnvPrefix = "BATCHFLOW"

// ErrInvalidConfig wraps every loading or validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// flagBindings maps command-line flag names onto configuration keys.
var flagBindings = map[string]string{
	"capacity-ceiling":  "submission.capacity_ceiling",
	"max-items":         "submission.max_items_per_batch",
	"poll-interval":     "submission.poll_interval",
	"max-iterations":    "submission.max_iterations",
	"limit":             "catalog.limit",
	"sample":            "catalog.sample",
	"seed":              "catalog.seed",
	"source-dir":        "paths.source_dir",
	"marker-dir":        "paths.marker_dir",
	"state-dir":         "paths.state_dir",
	"results-dir":       "paths.results_dir",
	"instruction-file":  "paths.instruction_file",
	"backend":           "service.backend",
	"model":             "service.model",
	"estimator":         "estimator.kind",
	"log-level":         "log.level",
	"error-log":         "log.error_log",
	"status-addr":       "status.addr",
	"result-store":      "result_store.driver",
	"database-url":      "result_store.database_url",
	"requests-per-sec":  "service.requests_per_second",
	"dry-run-polls":     "service.dry_run_polls",
	"bytes-per-token":   "estimator.bytes_per_token",
	"catalog-extension": "catalog.extension",
}

// RegisterFlags adds the shared configuration flags to fs. Flags that are
// not set on the command line never override file or environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML configuration file")
	fs.Int("capacity-ceiling", 0, "maximum outstanding cost across active batches")
	fs.Int("max-items", 0, "maximum job requests per batch")
	fs.Duration("poll-interval", 0, "sleep between submission loop iterations")
	fs.Int("max-iterations", 0, "stop the submission loop after this many iterations (0 = unlimited)")
	fs.Int("limit", 0, "truncate the catalog to this many items (0 = all)")
	fs.Bool("sample", false, "shuffle the catalog before truncating to --limit")
	fs.Int64("seed", 0, "random seed for --sample")
	fs.String("source-dir", "", "directory containing the work items")
	fs.String("marker-dir", "", "directory containing completion markers from downstream stages")
	fs.String("state-dir", "", "directory for submission state")
	fs.String("results-dir", "", "directory for the processed-batch set and merged results")
	fs.String("instruction-file", "", "YAML file with the system instruction")
	fs.String("backend", "", "batch service backend (gemini|dry-run)")
	fs.String("model", "", "model name used for submission and token counting")
	fs.String("estimator", "", "cost estimator (gemini|heuristic)")
	fs.String("log-level", "", "log level (debug|info|warn|error)")
	fs.String("error-log", "", "append-only error log file (default <state-dir>/error_log.txt, \"off\" disables)")
	fs.String("status-addr", "", "listen address for the status endpoint")
	fs.String("result-store", "", "result store driver (file|postgres)")
	fs.String("database-url", "", "postgres URL for the result store")
	fs.Float64("requests-per-sec", 0, "pace of calls to the batch service")
	fs.Int("dry-run-polls", 0, "status polls before a dry-run batch completes")
	fs.Int("bytes-per-token", 0, "bytes per token for the heuristic estimator")
	fs.String("catalog-extension", "", "file extension of work items")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("submission.capacity_ceiling", 900_000_000)
	v.SetDefault("submission.max_items_per_batch", 5000)
	v.SetDefault("submission.poll_interval", 5*time.Second)
	v.SetDefault("submission.max_iterations", 0)

	v.SetDefault("catalog.limit", 0)
	v.SetDefault("catalog.sample", false)
	v.SetDefault("catalog.seed", 0)
	v.SetDefault("catalog.extension", ".txt")
	v.SetDefault("catalog.marker_suffix", "_original.txt")

	v.SetDefault("paths.source_dir", "data/txt_files")
	v.SetDefault("paths.marker_dir", "data/itemized_result")
	v.SetDefault("paths.state_dir", "data/state")
	v.SetDefault("paths.results_dir", "data/results")
	v.SetDefault("paths.instruction_file", "instruction.yaml")

	v.SetDefault("service.backend", BackendGemini)
	v.SetDefault("service.api_key", "")
	v.SetDefault("service.model", "gemini-2.5-flash")
	v.SetDefault("service.requests_per_second", 2.0)
	v.SetDefault("service.max_retries", 3)
	v.SetDefault("service.retry_delay", 2*time.Second)
	v.SetDefault("service.dry_run_polls", 1)

	v.SetDefault("estimator.kind", EstimatorGemini)
	v.SetDefault("estimator.bytes_per_token", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.error_log", "")

	v.SetDefault("status.addr", "")

	v.SetDefault("result_store.driver", DriverFile)
	v.SetDefault("result_store.database_url", "")
}

// Load configuration from defaults, an optional config file, environment
// variables and the flags in fs (which may be nil). Later sources take
// precedence. Returns a validated Config or an error wrapping ErrInvalidConfig.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := os.Getenv(EnvPrefix + "_CONFIG")
	if fs != nil {
		for name, key := range flagBindings {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("%w: binding flag %s: %v", ErrInvalidConfig, name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Changed {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch cfg.Log.ErrorLog {
	case "":
		cfg.Log.ErrorLog = cfg.Paths.ErrorLogFile()
	case ErrorLogOff:
		cfg.Log.ErrorLog = ""
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// EnsureDirs creates the state and result directories. Failure is a fatal
// configuration error for both processes.
func EnsureDirs(p PathsConfig) error {
	for _, dir := range []string{p.StateDir, p.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: creating %s: %v", ErrInvalidConfig, dir, err)
		}
	}
	return nil
}
