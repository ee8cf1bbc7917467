// Package sast runs semgrep against a project's uploaded source tree.
package sast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

const toolName = "semgrep"

// Config holds the semgrep invocation settings.
type Config struct {
	Binary  string
	Timeout time.Duration
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{Binary: "semgrep", Timeout: 300 * time.Second}
}

// Scanner is the static analysis adapter.
type Scanner struct {
	cfg     Config
	locator scanning.SourceLocator
	runner  toolexec.Runner
	log     *logger.Logger
}

var _ scanning.Scanner = (*Scanner)(nil)

// New creates a semgrep-backed Scanner.
func New(cfg Config, locator scanning.SourceLocator, runner toolexec.Runner, log *logger.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		locator: locator,
		runner:  runner,
		log:     log.With("component", "sast_scanner"),
	}
}

func (s *Scanner) ScanType() scanning.ScanType { return scanning.ScanTypeSAST }

// semgrepOutput is the subset of `semgrep --json` output the adapter reads.
type semgrepOutput struct {
	Results []semgrepResult `json:"results"`
	Errors  []struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	} `json:"errors"`
}

type semgrepResult struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	Extra struct {
		Message  string         `json:"message"`
		Severity string         `json:"severity"`
		Lines    string         `json:"lines"`
		Metadata map[string]any `json:"metadata"`
	} `json:"extra"`
}

// Scan runs semgrep with the job's ruleset. Exit status 1 means findings
// were reported and is not a failure.
func (s *Scanner) Scan(ctx context.Context, job *scanning.Job) ([]scanning.RawFinding, error) {
	var out []scanning.RawFinding
	if job.ConfigError() != nil {
		out = append(out, scanner.InvalidConfig(job))
	}

	cfg, ok := job.Config().(scanning.SASTConfig)
	if !ok {
		return nil, fmt.Errorf("sast scanner received %T configuration", job.Config())
	}
	if cfg.Ruleset == "" {
		cfg.Ruleset = scanning.DefaultSASTRuleset
	}

	root, found := s.locator.Locate(job.ProjectID())
	if !found {
		return append(out, scanner.ProjectNotFound(job.ProjectID())), nil
	}

	res, err := s.runner.Run(ctx, toolexec.Command{
		Path:    s.cfg.Binary,
		Args:    []string{"--json", "--config=" + cfg.Ruleset, root},
		Timeout: s.cfg.Timeout,
	})
	if err != nil && !acceptableExit(err) {
		s.log.Warn(ctx, "semgrep failed", "job_id", job.JobID().String(), "error", err)
		return append(out, scanner.ToolFailure(toolName, err, res)), nil
	}

	var report semgrepOutput
	if err := json.Unmarshal(res.Stdout, &report); err != nil {
		return append(out, scanner.Unparsable(toolName, err, res.Stdout)), nil
	}

	for _, r := range report.Results {
		out = append(out, toFinding(root, r))
	}

	s.log.Info(ctx, "semgrep finished",
		"job_id", job.JobID().String(),
		"results", len(report.Results),
		"tool_errors", len(report.Errors),
		"duration", res.Duration(),
	)
	return out, nil
}

func acceptableExit(err error) bool {
	var exitErr *toolexec.ExitError
	return errors.As(err, &exitErr) && exitErr.Code == 1
}

func toFinding(root string, r semgrepResult) scanning.RawFinding {
	path := r.Path
	if rel, err := filepath.Rel(root, r.Path); err == nil && !strings.HasPrefix(rel, "..") {
		path = rel
	}

	message := strings.TrimSpace(r.Extra.Message)
	title := firstLine(message)
	if title == "" {
		title = r.CheckID
	}

	return scanning.RawFinding{
		Tool:              scanning.ToolSemgrep,
		Severity:          r.Extra.Severity,
		VulnerabilityType: scanner.Truncate(r.CheckID, scanning.MaxVulnerabilityTypeLen),
		Title:             scanner.Truncate(title, scanning.MaxTitleLen),
		Description:       message,
		FilePath:          scanner.Truncate(path, scanning.MaxFilePathLen),
		LineNumber:        max(r.Start.Line, 0),
		RawData:           r,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
