package scanning

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Column limits of the findings store.
const (
	MaxVulnerabilityTypeLen = 100
	MaxTitleLen             = 500
	MaxFilePathLen          = 1000
	MaxCVEIDLen             = 50
	MaxPackageNameLen       = 200
	MaxVersionLen           = 50
	MaxReasonLen            = 64
)

// Finding is one normalized security observation tied to a job. It is
// immutable once created.
type Finding struct {
	findingID         uuid.UUID
	jobID             uuid.UUID
	severity          Severity
	vulnerabilityType string
	title             string
	description       string
	filePath          string
	lineNumber        int
	cveID             string
	packageName       string
	packageVersion    string
	fixedVersion      string
	rawData           json.RawMessage
	diagnostic        bool
	reason            ReasonCode
	createdAt         time.Time
}

// NewFinding normalizes raw into a Finding for the given job and validates
// it against the record limits. Validation failures wrap ErrInvalidFinding.
func NewFinding(jobID uuid.UUID, raw RawFinding, createdAt time.Time) (*Finding, error) {
	rawData, err := marshalRawData(raw.RawData)
	if err != nil {
		return nil, fmt.Errorf("%w: raw data: %v", ErrInvalidFinding, err)
	}

	f := &Finding{
		findingID:         uuid.New(),
		jobID:             jobID,
		severity:          NormalizeSeverity(raw.Tool, raw.Severity),
		vulnerabilityType: raw.VulnerabilityType,
		title:             raw.Title,
		description:       raw.Description,
		filePath:          raw.FilePath,
		lineNumber:        raw.LineNumber,
		cveID:             raw.CVEID,
		packageName:       raw.PackageName,
		packageVersion:    raw.PackageVersion,
		fixedVersion:      raw.FixedVersion,
		rawData:           rawData,
		diagnostic:        raw.Diagnostic,
		reason:            raw.Reason,
		createdAt:         createdAt,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ReconstructFinding creates a Finding from stored fields, bypassing
// normalization. This should only be used by repositories.
func ReconstructFinding(
	findingID, jobID uuid.UUID,
	severity Severity,
	vulnerabilityType, title, description, filePath string,
	lineNumber int,
	cveID, packageName, packageVersion, fixedVersion string,
	rawData json.RawMessage,
	diagnostic bool,
	reason ReasonCode,
	createdAt time.Time,
) *Finding {
	return &Finding{
		findingID:         findingID,
		jobID:             jobID,
		severity:          severity,
		vulnerabilityType: vulnerabilityType,
		title:             title,
		description:       description,
		filePath:          filePath,
		lineNumber:        lineNumber,
		cveID:             cveID,
		packageName:       packageName,
		packageVersion:    packageVersion,
		fixedVersion:      fixedVersion,
		rawData:           rawData,
		diagnostic:        diagnostic,
		reason:            reason,
		createdAt:         createdAt,
	}
}

func marshalRawData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(d) {
			return nil, fmt.Errorf("not valid JSON")
		}
		return d, nil
	default:
		return json.Marshal(d)
	}
}

// Validate checks the finding against the store's limits.
func (f *Finding) Validate() error {
	if !f.severity.IsValid() {
		return fmt.Errorf("%w: severity %q", ErrInvalidFinding, f.severity)
	}
	if f.title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidFinding)
	}
	if f.lineNumber < 0 {
		return fmt.Errorf("%w: negative line number %d", ErrInvalidFinding, f.lineNumber)
	}

	limits := []struct {
		field string
		value string
		max   int
	}{
		{"vulnerability_type", f.vulnerabilityType, MaxVulnerabilityTypeLen},
		{"title", f.title, MaxTitleLen},
		{"file_path", f.filePath, MaxFilePathLen},
		{"cve_id", f.cveID, MaxCVEIDLen},
		{"package_name", f.packageName, MaxPackageNameLen},
		{"package_version", f.packageVersion, MaxVersionLen},
		{"fixed_version", f.fixedVersion, MaxVersionLen},
		{"reason", string(f.reason), MaxReasonLen},
	}
	for _, l := range limits {
		if n := utf8.RuneCountInString(l.value); n > l.max {
			return fmt.Errorf("%w: %s exceeds %d characters (%d)", ErrInvalidFinding, l.field, l.max, n)
		}
	}
	return nil
}

func (f *Finding) FindingID() uuid.UUID      { return f.findingID }
func (f *Finding) JobID() uuid.UUID          { return f.jobID }
func (f *Finding) Severity() Severity        { return f.severity }
func (f *Finding) VulnerabilityType() string { return f.vulnerabilityType }
func (f *Finding) Title() string             { return f.title }
func (f *Finding) Description() string       { return f.description }
func (f *Finding) FilePath() string          { return f.filePath }
func (f *Finding) CVEID() string             { return f.cveID }
func (f *Finding) PackageName() string       { return f.packageName }
func (f *Finding) PackageVersion() string    { return f.packageVersion }
func (f *Finding) FixedVersion() string      { return f.fixedVersion }
func (f *Finding) RawData() json.RawMessage  { return f.rawData }
func (f *Finding) IsDiagnostic() bool        { return f.diagnostic }
func (f *Finding) Reason() ReasonCode        { return f.reason }
func (f *Finding) CreatedAt() time.Time      { return f.createdAt }

// LineNumber returns the reported line. Zero means the tool did not report
// one.
func (f *Finding) LineNumber() int { return f.lineNumber }
