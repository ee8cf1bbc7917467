package scanning

// ReasonCode is the machine-readable cause recorded on a diagnostic finding.
type ReasonCode string

const (
	ReasonProjectPathNotFound    ReasonCode = "project_path_not_found"
	ReasonToolNotInstalled       ReasonCode = "tool_not_installed"
	ReasonToolTimeout            ReasonCode = "tool_timeout"
	ReasonToolFailed             ReasonCode = "tool_failed"
	ReasonOutputUnparsable       ReasonCode = "output_unparsable"
	ReasonImageNameNotConfigured ReasonCode = "image_name_not_configured"
	ReasonInvalidConfig          ReasonCode = "invalid_config"
	ReasonNoEcosystemDetected    ReasonCode = "no_ecosystem_detected"
	ReasonEcosystemUnsupported   ReasonCode = "ecosystem_unsupported"
	ReasonAuditToolsUnavailable  ReasonCode = "audit_tools_unavailable"
	ReasonRASPNotConfigured      ReasonCode = "rasp_not_configured"
	ReasonRASPConnectionFailed   ReasonCode = "rasp_connection_failed"
	ReasonRASPAuthFailed         ReasonCode = "rasp_auth_failed"
	ReasonRASPBadStatus          ReasonCode = "rasp_bad_status"
	ReasonRASPResponseMalformed  ReasonCode = "rasp_response_malformed"
	ReasonRASPResponseEmpty      ReasonCode = "rasp_response_empty"
)

func (r ReasonCode) String() string { return string(r) }

// DiagnosticVulnerabilityType is the classifier stored on diagnostic findings.
const DiagnosticVulnerabilityType = "scanner_diagnostic"

// RawFinding is what a Scanner returns before normalization. Severity is in
// the vocabulary of Tool.
type RawFinding struct {
	Tool              string
	Severity          string
	VulnerabilityType string
	Title             string
	Description       string
	FilePath          string
	LineNumber        int
	CVEID             string
	PackageName       string
	PackageVersion    string
	FixedVersion      string
	// RawData is marshaled to JSON when the finding is recorded.
	RawData any

	Diagnostic bool
	Reason     ReasonCode
}

// NewDiagnostic builds a placeholder finding explaining why genuine analysis
// could not be performed. details is stored as the finding's raw data.
func NewDiagnostic(reason ReasonCode, severity Severity, title, description string, details map[string]any) RawFinding {
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["reason"] = reason.String()
	return RawFinding{
		Tool:              ToolOrchestrator,
		Severity:          severity.String(),
		VulnerabilityType: DiagnosticVulnerabilityType,
		Title:             title,
		Description:       description,
		RawData:           details,
		Diagnostic:        true,
		Reason:            reason,
	}
}
