package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment overrides, e.g. SCANNER_WEB_API_PORT.
const EnvPrefix = "SCANNER"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	Load(ctx context.Context) (*Config, error)
}

// ViperLoader layers defaults, an optional config file and the environment.
type ViperLoader struct {
	// path is the config file to read. Empty skips the file layer.
	path string
}

var _ Loader = (*ViperLoader)(nil)

// NewLoader creates a ViperLoader reading path when it is non-empty.
func NewLoader(path string) *ViperLoader {
	return &ViperLoader{path: path}
}

// Load builds and validates the configuration.
func (l *ViperLoader) Load(_ context.Context) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.api_host", "0.0.0.0")
	v.SetDefault("web.api_port", "8000")
	v.SetDefault("web.debug_host", "0.0.0.0:8010")
	v.SetDefault("web.read_timeout", 5*time.Second)
	v.SetDefault("web.write_timeout", 10*time.Second)
	v.SetDefault("web.idle_timeout", 120*time.Second)
	v.SetDefault("web.shutdown_timeout", 20*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", false)
	v.SetDefault("database.migrations_dir", "db/migrations")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.job_events_topic", "scan-job-events")
	v.SetDefault("kafka.client_id", "scan-orchestrator")
	v.SetDefault("kafka.connect_timeout", 2*time.Minute)

	v.SetDefault("telemetry.service_name", "scan-orchestrator")
	v.SetDefault("telemetry.exporter_endpoint", "")
	v.SetDefault("telemetry.probability", 0.05)
	v.SetDefault("telemetry.insecure", true)

	v.SetDefault("log.level", "info")

	v.SetDefault("uploads.root", "uploads")

	v.SetDefault("tools.semgrep", "semgrep")
	v.SetDefault("tools.semgrep_timeout", 300*time.Second)
	v.SetDefault("tools.trivy", "trivy")
	v.SetDefault("tools.trivy_timeout", 600*time.Second)
	v.SetDefault("tools.dependency_check", "/opt/dependency-check/bin/dependency-check.sh")
	v.SetDefault("tools.dependency_check_timeout", 600*time.Second)
	v.SetDefault("tools.pip_audit", "pip-audit")
	v.SetDefault("tools.npm", "npm")
	v.SetDefault("tools.audit_timeout", 300*time.Second)
	v.SetDefault("tools.version_check_timeout", 10*time.Second)
	v.SetDefault("tools.report_dir", "")

	v.SetDefault("rasp.base_url", "")
	v.SetDefault("rasp.token", "")
	v.SetDefault("rasp.username", "")
	v.SetDefault("rasp.password", "")
	v.SetDefault("rasp.page_size", 100)
	v.SetDefault("rasp.max_pages", 10)
	v.SetDefault("rasp.requests_per_second", 5.0)
	v.SetDefault("rasp.timeout", 30*time.Second)
}
