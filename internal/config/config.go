// Package config loads the service configuration from defaults, an optional
// YAML file and SCANNER_ prefixed environment variables.
package config

import (
	"errors"
	"time"
)

// Config represents the top-level configuration.
type Config struct {
	Web       Web       `mapstructure:"web"`
	Database  Database  `mapstructure:"database"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Telemetry Telemetry `mapstructure:"telemetry"`
	Log       Log       `mapstructure:"log"`
	Uploads   Uploads   `mapstructure:"uploads"`
	Tools     Tools     `mapstructure:"tools"`
	RASP      RASP      `mapstructure:"rasp"`
}

// Web configures the API and debug listeners.
type Web struct {
	APIHost         string        `mapstructure:"api_host"`
	APIPort         string        `mapstructure:"api_port"`
	DebugHost       string        `mapstructure:"debug_host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database configures the Postgres pool. An empty URL selects the in-memory
// stores.
type Database struct {
	URL           string `mapstructure:"url"`
	MinConns      int32  `mapstructure:"min_conns"`
	MaxConns      int32  `mapstructure:"max_conns"`
	Migrate       bool   `mapstructure:"migrate"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// Kafka configures the job event publisher. Without brokers, events are
// kept in memory.
type Kafka struct {
	Brokers        []string      `mapstructure:"brokers"`
	JobEventsTopic string        `mapstructure:"job_events_topic"`
	ClientID       string        `mapstructure:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	ServiceName      string  `mapstructure:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability"`
	Insecure         bool    `mapstructure:"insecure"`
}

// Log configures the structured logger.
type Log struct {
	Level string `mapstructure:"level"`
}

// Uploads locates the project source trees.
type Uploads struct {
	Root string `mapstructure:"root"`
}

// Tools holds the scanner binaries and their time limits.
type Tools struct {
	Semgrep                string        `mapstructure:"semgrep"`
	SemgrepTimeout         time.Duration `mapstructure:"semgrep_timeout"`
	Trivy                  string        `mapstructure:"trivy"`
	TrivyTimeout           time.Duration `mapstructure:"trivy_timeout"`
	DependencyCheck        string        `mapstructure:"dependency_check"`
	DependencyCheckTimeout time.Duration `mapstructure:"dependency_check_timeout"`
	PipAudit               string        `mapstructure:"pip_audit"`
	Npm                    string        `mapstructure:"npm"`
	AuditTimeout           time.Duration `mapstructure:"audit_timeout"`
	VersionCheckTimeout           time.Duration `mapstructure:"version_check_timeout"`
	ReportDir              string        `mapstructure:"report_dir"`
}

// RASP configures the OpenRASP management API client. An empty BaseURL
// leaves the runtime scan type unregistered.
type RASP struct {
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	PageSize          int           `mapstructure:"page_size"`
	MaxPages          int           `mapstructure:"max_pages"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Web.APIPort == "" {
		errs = append(errs, errors.New("web.api_port is required"))
	}
	if c.Database.URL != "" && c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, errors.New("database.max_conns must be at least database.min_conns"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.JobEventsTopic == "" {
		errs = append(errs, errors.New("kafka.job_events_topic is required when brokers are set"))
	}
	if c.Telemetry.Probability < 0 || c.Telemetry.Probability > 1 {
		errs = append(errs, errors.New("telemetry.probability must be within [0, 1]"))
	}
	if c.Uploads.Root == "" {
		errs = append(errs, errors.New("uploads.root is required"))
	}
	if c.RASP.BaseURL != "" && (c.RASP.PageSize <= 0 || c.RASP.MaxPages <= 0) {
		errs = append(errs, errors.New("rasp.page_size and rasp.max_pages must be positive"))
	}
	return errors.Join(errs...)
}
