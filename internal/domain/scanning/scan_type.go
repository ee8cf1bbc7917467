package scanning

import "strings"

// ScanType identifies which kind of analysis a job requests.
type ScanType string

const (
	ScanTypeSAST      ScanType = "sast"
	ScanTypeSCA       ScanType = "sca"
	ScanTypeContainer ScanType = "container"
	ScanTypeRASP      ScanType = "rasp"
)

// SupportedScanTypes lists every scan type the orchestrator knows how to
// dispatch, in a stable order.
var SupportedScanTypes = []ScanType{ScanTypeSAST, ScanTypeSCA, ScanTypeContainer, ScanTypeRASP}

// ParseScanType normalizes the case and surrounding space of s. Unknown
// values are preserved so a job can record what was requested.
func ParseScanType(s string) ScanType {
	return ScanType(strings.ToLower(strings.TrimSpace(s)))
}

func (t ScanType) String() string { return string(t) }

// IsSupported reports whether t is one of the known scan types.
func (t ScanType) IsSupported() bool {
	switch t {
	case ScanTypeSAST, ScanTypeSCA, ScanTypeContainer, ScanTypeRASP:
		return true
	default:
		return false
	}
}
