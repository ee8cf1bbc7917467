package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScanConfig is the typed, scan-type-specific configuration of a job. It is
// decoded once when the job is created.
type ScanConfig interface {
	ScanType() ScanType
}

// DefaultSASTRuleset is the semgrep ruleset used when none is configured.
const DefaultSASTRuleset = "auto"

// DefaultRASPWindow is the look-back used when a RASP job has no start time.
const DefaultRASPWindow = 30 * 24 * time.Hour

// SASTConfig configures static analysis.
type SASTConfig struct {
	Ruleset string `json:"ruleset" yaml:"ruleset"`
}

func (SASTConfig) ScanType() ScanType { return ScanTypeSAST }

// SCAConfig configures dependency analysis. No keys are recognized today.
type SCAConfig struct{}

func (SCAConfig) ScanType() ScanType { return ScanTypeSCA }

// ContainerConfig configures image analysis. ImageName is required for a
// genuine scan; its absence is reported as a diagnostic finding.
type ContainerConfig struct {
	ImageName     string `json:"image_name" yaml:"image_name"`
	IgnoreUnfixed bool   `json:"ignore_unfixed" yaml:"ignore_unfixed"`
}

func (ContainerConfig) ScanType() ScanType { return ScanTypeContainer }

// RASPConfig scopes the runtime protection event query.
type RASPConfig struct {
	AppID     string     `json:"app_id" yaml:"app_id"`
	StartTime *Timestamp `json:"start_time,omitempty" yaml:"start_time"`
	EndTime   *Timestamp `json:"end_time,omitempty" yaml:"end_time"`
}

func (RASPConfig) ScanType() ScanType { return ScanTypeRASP }

// Window returns the query window, defaulting the end to now and the start
// to DefaultRASPWindow before the end. A start after the effective end, such
// as a future start_time with no end_time, is rejected with ErrInvalidConfig.
func (c RASPConfig) Window(now time.Time) (start, end time.Time, err error) {
	end = now
	if c.EndTime != nil {
		end = c.EndTime.Time
	}
	start = end.Add(-DefaultRASPWindow)
	if c.StartTime != nil {
		start = c.StartTime.Time
	}
	if start.After(end) {
		return start, end, fmt.Errorf("%w: start_time %s is after the window end %s",
			ErrInvalidConfig, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

// UnknownConfig holds the configuration of a job whose scan type is not
// supported. It is kept only so the job can be recorded and failed.
type UnknownConfig struct {
	Type ScanType
}

func (c UnknownConfig) ScanType() ScanType { return c.Type }

// Timestamp accepts either an RFC 3339 string or a Unix epoch in
// milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return t.parse(s)
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("timestamp must be an RFC 3339 string or epoch milliseconds: %w", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// UnmarshalText lets YAML and other text decoders use the same formats.
func (t *Timestamp) UnmarshalText(text []byte) error { return t.parse(string(text)) }

func (t *Timestamp) parse(s string) error {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}

// DefaultConfig returns the configuration used when a job supplies none.
func DefaultConfig(t ScanType) ScanConfig {
	switch t {
	case ScanTypeSAST:
		return SASTConfig{Ruleset: DefaultSASTRuleset}
	case ScanTypeSCA:
		return SCAConfig{}
	case ScanTypeContainer:
		return ContainerConfig{}
	case ScanTypeRASP:
		return RASPConfig{}
	default:
		return UnknownConfig{Type: t}
	}
}

// DecodeConfig decodes raw into the configuration type of t. Unknown keys
// are ignored. A recognized key with the wrong type, a non-object document
// or an inverted RASP window is rejected with ErrInvalidConfig.
func DecodeConfig(t ScanType, raw json.RawMessage) (ScanConfig, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return DefaultConfig(t), nil
	}
	if raw[0] != '{' {
		return DefaultConfig(t), fmt.Errorf("%w: configuration must be a JSON object", ErrInvalidConfig)
	}

	switch t {
	case ScanTypeSAST:
		var c SASTConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return DefaultConfig(t), fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return c.withDefaults(), nil

	case ScanTypeSCA:
		return SCAConfig{}, nil

	case ScanTypeContainer:
		var c ContainerConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return DefaultConfig(t), fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		c.ImageName = strings.TrimSpace(c.ImageName)
		return c, nil

	case ScanTypeRASP:
		var c RASPConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return DefaultConfig(t), fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if err := c.Validate(); err != nil {
			return DefaultConfig(t), err
		}
		return c, nil

	default:
		return UnknownConfig{Type: t}, nil
	}
}

// Validate checks the RASP window ordering.
func (c RASPConfig) Validate() error {
	if c.StartTime != nil && c.EndTime != nil && c.EndTime.Before(c.StartTime.Time) {
		return fmt.Errorf("%w: end_time precedes start_time", ErrInvalidConfig)
	}
	return nil
}

func (c SASTConfig) withDefaults() SASTConfig {
	c.Ruleset = strings.TrimSpace(c.Ruleset)
	if c.Ruleset == "" {
		c.Ruleset = DefaultSASTRuleset
	}
	return c
}
