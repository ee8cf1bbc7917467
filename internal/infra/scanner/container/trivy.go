// Package container scans container images with trivy.
package container

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

const toolName = "trivy"

// Config holds the trivy invocation settings.
type Config struct {
	Binary  string
	Timeout time.Duration
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{Binary: "trivy", Timeout: 600 * time.Second}
}

// Scanner is the container image adapter. It does not read the project's
// uploaded files; the image is named by the job configuration.
type Scanner struct {
	cfg    Config
	runner toolexec.Runner
	log    *logger.Logger
}

var _ scanning.Scanner = (*Scanner)(nil)

// New creates a trivy-backed Scanner.
func New(cfg Config, runner toolexec.Runner, log *logger.Logger) *Scanner {
	return &Scanner{cfg: cfg, runner: runner, log: log.With("component", "container_scanner")}
}

func (s *Scanner) ScanType() scanning.ScanType { return scanning.ScanTypeContainer }

// Report is the subset of trivy's JSON report used here.
type Report struct {
	ArtifactName string   `json:"ArtifactName"`
	Results      []Result `json:"Results"`
}

// Result groups the vulnerabilities found in one target of the image.
type Result struct {
	Target          string          `json:"Target"`
	Class           string          `json:"Class"`
	Type            string          `json:"Type"`
	Vulnerabilities []Vulnerability `json:"Vulnerabilities"`
}

// Vulnerability is a single detected package vulnerability.
type Vulnerability struct {
	VulnerabilityID  string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName"`
	InstalledVersion string   `json:"InstalledVersion"`
	FixedVersion     string   `json:"FixedVersion,omitempty"`
	Severity         string   `json:"Severity"`
	Title            string   `json:"Title,omitempty"`
	Description      string   `json:"Description,omitempty"`
	PrimaryURL       string   `json:"PrimaryURL,omitempty"`
	References       []string `json:"References,omitempty"`
}

func (s *Scanner) Scan(ctx context.Context, job *scanning.Job) ([]scanning.RawFinding, error) {
	var out []scanning.RawFinding
	if job.ConfigError() != nil {
		out = append(out, scanner.InvalidConfig(job))
	}

	cfg, ok := job.Config().(scanning.ContainerConfig)
	if !ok {
		return nil, fmt.Errorf("container scanner received %T configuration", job.Config())
	}
	if cfg.ImageName == "" {
		return append(out, imageNotConfigured(job.ProjectID())), nil
	}

	args := []string{"image", "--format", "json", "--quiet"}
	if cfg.IgnoreUnfixed {
		args = append(args, "--ignore-unfixed")
	}
	args = append(args, cfg.ImageName)

	res, err := s.runner.Run(ctx, toolexec.Command{Path: s.cfg.Binary, Args: args, Timeout: s.cfg.Timeout})
	if err != nil {
		s.log.Warn(ctx, "trivy failed", "job_id", job.JobID().String(), "image", cfg.ImageName, "error", err)
		return append(out, scanner.ToolFailure(toolName, err, res)), nil
	}

	var report Report
	if err := json.Unmarshal(res.Stdout, &report); err != nil {
		return append(out, scanner.Unparsable(toolName, err, res.Stdout)), nil
	}

	for _, r := range report.Results {
		for _, v := range r.Vulnerabilities {
			out = append(out, toFinding(r.Target, v))
		}
	}

	s.log.Info(ctx, "trivy finished",
		"job_id", job.JobID().String(),
		"image", cfg.ImageName,
		"findings", len(out),
		"duration", res.Duration(),
	)
	return out, nil
}

func imageNotConfigured(projectID string) scanning.RawFinding {
	return scanning.NewDiagnostic(scanning.ReasonImageNameNotConfigured, scanning.SeverityCritical,
		"Container image not configured",
		"The container scan has no image_name in its configuration. Set image_name to the image reference to scan.",
		map[string]any{"project_id": projectID})
}

func toFinding(target string, v Vulnerability) scanning.RawFinding {
	title := strings.TrimSpace(v.Title)
	if title == "" {
		title = fmt.Sprintf("%s in %s", v.VulnerabilityID, v.PkgName)
	}

	desc := strings.TrimSpace(v.Description)
	if v.PrimaryURL != "" {
		if desc != "" {
			desc += "\n\n"
		}
		desc += v.PrimaryURL
	}

	var cve string
	if strings.HasPrefix(strings.ToUpper(v.VulnerabilityID), "CVE-") {
		cve = v.VulnerabilityID
	}

	return scanning.RawFinding{
		Tool:              scanning.ToolTrivy,
		Severity:          v.Severity,
		VulnerabilityType: scanner.Truncate(v.VulnerabilityID, scanning.MaxVulnerabilityTypeLen),
		Title:             scanner.Truncate(title, scanning.MaxTitleLen),
		Description:       desc,
		FilePath:          scanner.Truncate(target, scanning.MaxFilePathLen),
		CVEID:             scanner.Truncate(cve, scanning.MaxCVEIDLen),
		PackageName:       scanner.Truncate(v.PkgName, scanning.MaxPackageNameLen),
		PackageVersion:    scanner.Truncate(v.InstalledVersion, scanning.MaxVersionLen),
		FixedVersion:      scanner.Truncate(v.FixedVersion, scanning.MaxVersionLen),
		RawData:           v,
	}
}
