// Package scanner holds the pieces shared by the scanner adapters: mapping
// tool execution failures to diagnostic findings and bounding free text to
// the findings schema.
package scanner

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
)

// ToolFailure converts a failed tool invocation into a diagnostic finding.
// tool is the human readable tool name used in the title.
func ToolFailure(tool string, err error, res toolexec.Result) scanning.RawFinding {
	details := map[string]any{
		"tool":  tool,
		"error": err.Error(),
	}

	var exitErr *toolexec.ExitError
	switch {
	case errors.Is(err, toolexec.ErrToolNotFound):
		return scanning.NewDiagnostic(scanning.ReasonToolNotInstalled, scanning.SeverityInfo,
			fmt.Sprintf("%s is not installed", tool),
			fmt.Sprintf("The %s binary could not be found on this host, so no analysis was performed.", tool),
			details)

	case errors.Is(err, toolexec.ErrTimeout):
		details["duration"] = res.Duration().String()
		return scanning.NewDiagnostic(scanning.ReasonToolTimeout, scanning.SeverityInfo,
			fmt.Sprintf("%s timed out", tool),
			fmt.Sprintf("%s did not finish within its time limit and was stopped.", tool),
			details)

	case errors.As(err, &exitErr):
		details["exit_code"] = exitErr.Code
		details["stderr"] = exitErr.Stderr
		return scanning.NewDiagnostic(scanning.ReasonToolFailed, scanning.SeverityInfo,
			fmt.Sprintf("%s exited with status %d", tool, exitErr.Code),
			Truncate(exitErr.Stderr, 4000),
			details)

	default:
		return scanning.NewDiagnostic(scanning.ReasonToolFailed, scanning.SeverityInfo,
			fmt.Sprintf("%s could not be run", tool),
			err.Error(),
			details)
	}
}

// Unparsable reports tool output that could not be decoded.
func Unparsable(tool string, err error, output []byte) scanning.RawFinding {
	return scanning.NewDiagnostic(scanning.ReasonOutputUnparsable, scanning.SeverityInfo,
		fmt.Sprintf("%s output could not be parsed", tool),
		err.Error(),
		map[string]any{"tool": tool, "output_excerpt": Truncate(string(output), 500)})
}

// ProjectNotFound reports a project without an uploaded source tree.
func ProjectNotFound(projectID string) scanning.RawFinding {
	return scanning.NewDiagnostic(scanning.ReasonProjectPathNotFound, scanning.SeverityInfo,
		"Project source not found",
		"No uploaded source tree exists for this project. Upload the project files and run the scan again.",
		map[string]any{"project_id": projectID})
}

// InvalidConfig reports a stored configuration that could not be decoded.
// The scan proceeds with defaults.
func InvalidConfig(job *scanning.Job) scanning.RawFinding {
	return scanning.NewDiagnostic(scanning.ReasonInvalidConfig, scanning.SeverityInfo,
		"Scan configuration ignored",
		fmt.Sprintf("The stored configuration could not be decoded (%v); defaults were used.", job.ConfigError()),
		map[string]any{"config": string(job.RawConfig())})
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
