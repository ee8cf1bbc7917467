// Package sca audits a project's third-party dependencies. OWASP
// dependency-check is preferred; when it is unavailable the ecosystem's own
// audit tool is used instead.
package sca

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// Config holds the binaries and time limits of the dependency audit tools.
type Config struct {
	DependencyCheckBinary  string
	PipAuditBinary         string
	NpmBinary              string
	VersionCheckTimeout           time.Duration
	DependencyCheckTimeout time.Duration
	AuditTimeout           time.Duration
	// ReportDir is the parent of the per-job report directories. Empty means
	// the system temp directory.
	ReportDir string
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		DependencyCheckBinary:  "/opt/dependency-check/bin/dependency-check.sh",
		PipAuditBinary:         "pip-audit",
		NpmBinary:              "npm",
		VersionCheckTimeout:           10 * time.Second,
		DependencyCheckTimeout: 600 * time.Second,
		AuditTimeout:           300 * time.Second,
	}
}

// Ecosystem is a package ecosystem recognized by its manifest files.
type Ecosystem string

const (
	EcosystemPython Ecosystem = "python"
	EcosystemNode   Ecosystem = "node"
	EcosystemMaven  Ecosystem = "maven"
	EcosystemGradle Ecosystem = "gradle"
)

// manifests is checked in order; the order of detected ecosystems, and so of
// the findings they produce, follows it.
var manifests = []struct {
	ecosystem Ecosystem
	files     []string
}{
	{EcosystemPython, []string{"requirements.txt", "requirements-dev.txt", "setup.py", "pyproject.toml"}},
	{EcosystemNode, []string{"package.json"}},
	{EcosystemMaven, []string{"pom.xml"}},
	{EcosystemGradle, []string{"build.gradle", "build.gradle.kts"}},
}

// DetectEcosystems reports the ecosystems whose manifests exist at the top
// level of root.
func DetectEcosystems(root string) []Ecosystem {
	var found []Ecosystem
	for _, m := range manifests {
		for _, f := range m.files {
			if fileExists(filepath.Join(root, f)) {
				found = append(found, m.ecosystem)
				break
			}
		}
	}
	return found
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Scanner is the dependency analysis adapter.
type Scanner struct {
	cfg     Config
	locator scanning.SourceLocator
	runner  toolexec.Runner
	log     *logger.Logger
}

var _ scanning.Scanner = (*Scanner)(nil)

// New creates an SCA Scanner.
func New(cfg Config, locator scanning.SourceLocator, runner toolexec.Runner, log *logger.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		locator: locator,
		runner:  runner,
		log:     log.With("component", "sca_scanner"),
	}
}

func (s *Scanner) ScanType() scanning.ScanType { return scanning.ScanTypeSCA }

func (s *Scanner) Scan(ctx context.Context, job *scanning.Job) ([]scanning.RawFinding, error) {
	var out []scanning.RawFinding
	if job.ConfigError() != nil {
		out = append(out, scanner.InvalidConfig(job))
	}

	root, found := s.locator.Locate(job.ProjectID())
	if !found {
		return append(out, scanner.ProjectNotFound(job.ProjectID())), nil
	}

	ecosystems := DetectEcosystems(root)
	if len(ecosystems) == 0 {
		return append(out, scanning.NewDiagnostic(scanning.ReasonNoEcosystemDetected, scanning.SeverityInfo,
			"No dependency manifests found",
			"No requirements.txt, setup.py, pyproject.toml, package.json, pom.xml or build.gradle was found at the project root.",
			map[string]any{"project_id": job.ProjectID()})), nil
	}

	jobLog := s.log.With("job_id", job.JobID().String())
	if s.available(ctx, s.cfg.DependencyCheckBinary) {
		jobLog.Info(ctx, "running dependency-check", "ecosystems", ecosystems)
		return append(out, s.dependencyCheck(ctx, job, root)...), nil
	}

	jobLog.Info(ctx, "dependency-check unavailable, using ecosystem audit tools", "ecosystems", ecosystems)
	findings, err := s.audit(ctx, root, ecosystems)
	if err != nil {
		return nil, err
	}
	return append(out, findings...), nil
}

// available runs a tool with --version. A zero exit whose output does not
// say the tool is "not installed" counts as available.
func (s *Scanner) available(ctx context.Context, binary string) bool {
	res, err := s.runner.Run(ctx, toolexec.Command{
		Path:    binary,
		Args:    []string{"--version"},
		Timeout: s.cfg.VersionCheckTimeout,
	})
	if err != nil {
		return false
	}
	combined := strings.ToLower(string(res.Stdout) + string(res.Stderr))
	return !strings.Contains(combined, "not installed")
}

// auditOutcome is the result of auditing one ecosystem.
type auditOutcome struct {
	findings []scanning.RawFinding
	// ran is false when no audit tool could be run for the ecosystem.
	ran bool
}

// audit runs the per-ecosystem fallback tools concurrently. Findings are
// returned grouped by ecosystem in detection order.
func (s *Scanner) audit(ctx context.Context, root string, ecosystems []Ecosystem) ([]scanning.RawFinding, error) {
	outcomes := make([]auditOutcome, len(ecosystems))

	g, gctx := errgroup.WithContext(ctx)
	for i, eco := range ecosystems {
		g.Go(func() error {
			outcomes[i] = s.auditEcosystem(gctx, root, eco)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dependency audit interrupted: %w", err)
	}

	var out []scanning.RawFinding
	anyRan := false
	unavailable := make([]string, 0, len(ecosystems))
	for i, o := range outcomes {
		if o.ran {
			anyRan = true
		} else {
			unavailable = append(unavailable, string(ecosystems[i]))
		}
		out = append(out, o.findings...)
	}

	if !anyRan {
		return []scanning.RawFinding{scanning.NewDiagnostic(scanning.ReasonAuditToolsUnavailable, scanning.SeverityInfo,
			"No dependency audit tool available",
			"dependency-check is not installed and no audit tool is available for the detected ecosystems.",
			map[string]any{"ecosystems": unavailable})}, nil
	}
	return out, nil
}

func (s *Scanner) auditEcosystem(ctx context.Context, root string, eco Ecosystem) auditOutcome {
	switch eco {
	case EcosystemPython:
		return s.runAudit(ctx, scanning.ToolPipAudit, s.cfg.PipAuditBinary, pipAuditArgs(root), root, parsePipAudit(pipAuditTarget(root)))
	case EcosystemNode:
		return s.runAudit(ctx, scanning.ToolNpmAudit, s.cfg.NpmBinary, []string{"audit", "--json"}, root, parseNpmAudit(npmInstalledVersions(root)))
	default:
		return auditOutcome{findings: []scanning.RawFinding{scanning.NewDiagnostic(
			scanning.ReasonEcosystemUnsupported, scanning.SeverityInfo,
			fmt.Sprintf("%s dependencies were not audited", eco),
			fmt.Sprintf("No fallback audit tool exists for %s projects. Install dependency-check to analyze them.", eco),
			map[string]any{"ecosystem": string(eco)},
		)}}
	}
}

type parseFunc func(stdout []byte) ([]scanning.RawFinding, error)

// runAudit runs one ecosystem audit tool. Audit tools exit non-zero when they
// report vulnerabilities, so any exit with output is parsed.
func (s *Scanner) runAudit(
	ctx context.Context,
	tool, binary string,
	args []string,
	dir string,
	parse parseFunc,
) auditOutcome {
	if !s.available(ctx, binary) {
		return auditOutcome{findings: []scanning.RawFinding{scanner.ToolFailure(tool, toolexec.ErrToolNotFound, toolexec.Result{})}}
	}

	res, err := s.runner.Run(ctx, toolexec.Command{Path: binary, Args: args, Dir: dir, Timeout: s.cfg.AuditTimeout})
	var exitErr *toolexec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && len(res.Stdout) > 0) {
		s.log.Warn(ctx, "audit tool failed", "tool", tool, "error", err)
		return auditOutcome{ran: true, findings: []scanning.RawFinding{scanner.ToolFailure(tool, err, res)}}
	}

	findings, perr := parse(res.Stdout)
	if perr != nil {
		return auditOutcome{ran: true, findings: []scanning.RawFinding{scanner.Unparsable(tool, perr, res.Stdout)}}
	}
	return auditOutcome{ran: true, findings: findings}
}
