package sca

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
)

const reportFileName = "dependency-check-report.json"

type depCheckReport struct {
	Dependencies []depCheckDependency `json:"dependencies"`
}

type depCheckDependency struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	Packages []struct {
		ID string `json:"id"`
	} `json:"packages"`
	Vulnerabilities []depCheckVulnerability `json:"vulnerabilities"`
}

type depCheckVulnerability struct {
	Source      string `json:"source"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	CVSSv3      *struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssv3,omitempty"`
}

// dependencyCheck runs dependency-check once over root, writing its report to
// a directory owned by this job.
func (s *Scanner) dependencyCheck(ctx context.Context, job *scanning.Job, root string) []scanning.RawFinding {
	const tool = scanning.ToolDependencyCheck

	outDir, err := os.MkdirTemp(s.cfg.ReportDir, "depcheck-"+job.JobID().String()+"-")
	if err != nil {
		return []scanning.RawFinding{scanner.ToolFailure(tool, fmt.Errorf("creating report directory: %w", err), toolexec.Result{})}
	}
	defer os.RemoveAll(outDir)

	res, err := s.runner.Run(ctx, toolexec.Command{
		Path: s.cfg.DependencyCheckBinary,
		Args: []string{
			"--project", job.JobID().String(),
			"--scan", root,
			"--format", "JSON",
			"--out", outDir,
			"--disableRetireJS",
			"--disableAssembly",
			"--disableOssIndex",
		},
		Timeout: s.cfg.DependencyCheckTimeout,
	})
	if err != nil {
		s.log.Warn(ctx, "dependency-check failed", "job_id", job.JobID().String(), "error", err)
		return []scanning.RawFinding{scanner.ToolFailure(tool, err, res)}
	}

	data, err := os.ReadFile(filepath.Join(outDir, reportFileName))
	if err != nil {
		return []scanning.RawFinding{scanner.Unparsable(tool, fmt.Errorf("reading report: %w", err), res.Stdout)}
	}

	findings, err := parseDependencyCheck(root, data)
	if err != nil {
		return []scanning.RawFinding{scanner.Unparsable(tool, err, data)}
	}
	return findings
}

func parseDependencyCheck(root string, data []byte) ([]scanning.RawFinding, error) {
	var report depCheckReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}

	var out []scanning.RawFinding
	for _, dep := range report.Dependencies {
		name, version := dep.FileName, ""
		if len(dep.Packages) > 0 {
			if n, v, ok := parsePURL(dep.Packages[0].ID); ok {
				name, version = n, v
			}
		}

		path := dep.FileName
		if rel, err := filepath.Rel(root, dep.FilePath); err == nil && dep.FilePath != "" && !strings.HasPrefix(rel, "..") {
			path = rel
		}

		for _, v := range dep.Vulnerabilities {
			severity := v.Severity
			if v.CVSSv3 != nil && v.CVSSv3.BaseSeverity != "" {
				severity = v.CVSSv3.BaseSeverity
			}

			var cve string
			if strings.HasPrefix(strings.ToUpper(v.Name), "CVE-") {
				cve = v.Name
			}

			out = append(out, scanning.RawFinding{
				Tool:              scanning.ToolDependencyCheck,
				Severity:          severity,
				VulnerabilityType: "CVE",
				Title:             scanner.Truncate(fmt.Sprintf("%s in %s", v.Name, name), scanning.MaxTitleLen),
				Description:       v.Description,
				FilePath:          scanner.Truncate(path, scanning.MaxFilePathLen),
				CVEID:             scanner.Truncate(cve, scanning.MaxCVEIDLen),
				PackageName:       scanner.Truncate(name, scanning.MaxPackageNameLen),
				PackageVersion:    scanner.Truncate(version, scanning.MaxVersionLen),
				RawData:           v,
			})
		}
	}
	return out, nil
}

// parsePURL extracts the name and version from a package URL such as
// pkg:maven/org.apache.commons/commons-text@1.9. The namespace is joined to
// the name with a slash; qualifiers and subpaths are dropped.
func parsePURL(purl string) (name, version string, ok bool) {
	p, err := packageurl.FromString(purl)
	if err != nil || p.Name == "" {
		return "", "", false
	}
	name = p.Name
	if p.Namespace != "" {
		name = p.Namespace + "/" + p.Name
	}
	return name, p.Version, true
}
