package scanning

import "strings"

// Severity is the canonical five-level scale every finding is mapped into.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

func (s Severity) String() string { return string(s) }

// IsValid reports whether s is one of the canonical values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// Tool names identify the vocabulary a native severity comes from.
const (
	ToolSemgrep         = "semgrep"
	ToolDependencyCheck = "dependency-check"
	ToolPipAudit        = "pip-audit"
	ToolNpmAudit        = "npm-audit"
	ToolTrivy           = "trivy"
	ToolOpenRASP        = "openrasp"
	// ToolOrchestrator marks diagnostic findings produced by the adapters
	// themselves. They always carry a canonical severity.
	ToolOrchestrator = "orchestrator"
)

var cvssSeverities = map[string]Severity{
	"critical": SeverityCritical,
	"high":     SeverityHigh,
	"medium":   SeverityMedium,
	"moderate": SeverityMedium,
	"low":      SeverityLow,
}

// severityTables maps each tool's lower-cased vocabulary onto the canonical
// scale. Canonical values are handled before the table lookup.
var severityTables = map[string]map[string]Severity{
	ToolSemgrep: {
		"error":   SeverityCritical,
		"warning": SeverityHigh,
	},
	ToolDependencyCheck: cvssSeverities,
	ToolPipAudit:        cvssSeverities,
	ToolNpmAudit: {
		"moderate": SeverityMedium,
	},
	ToolTrivy: {
		"unknown":    SeverityInfo,
		"negligible": SeverityLow,
	},
	ToolOpenRASP: {
		"block":  SeverityCritical,
		"log":    SeverityMedium,
		"ignore": SeverityInfo,
	},
}

// defaultSeverities overrides SeverityInfo as the fallback for unmapped input.
// Unclassified runtime events are treated as moderately risky.
var defaultSeverities = map[string]Severity{
	ToolOpenRASP: SeverityMedium,
}

// NormalizeSeverity maps a tool-native severity onto the canonical scale.
// Matching is case-insensitive. It never fails: unmapped values yield the
// tool's default, which is SeverityInfo unless overridden.
func NormalizeSeverity(tool, native string) Severity {
	key := strings.ToLower(strings.TrimSpace(native))

	if s := Severity(key); s.IsValid() {
		return s
	}

	tool = strings.ToLower(strings.TrimSpace(tool))
	if s, ok := severityTables[tool][key]; ok {
		return s
	}
	return DefaultSeverity(tool)
}

// DefaultSeverity returns the fallback severity of a tool.
func DefaultSeverity(tool string) Severity {
	if s, ok := defaultSeverities[strings.ToLower(tool)]; ok {
		return s
	}
	return SeverityInfo
}
