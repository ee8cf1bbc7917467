package sca

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner"
)

// pipAuditRequirements are the requirement files pip-audit is pointed at, in
// order of preference.
var pipAuditRequirements = []string{"requirements.txt", "requirements-dev.txt"}

// pipAuditTarget is the manifest findings are attributed to.
func pipAuditTarget(root string) string {
	for _, f := range pipAuditRequirements {
		if fileExists(filepath.Join(root, f)) {
			return f
		}
	}
	return "."
}

func pipAuditArgs(root string) []string {
	args := []string{"-f", "json", "--desc"}
	if target := pipAuditTarget(root); target != "." {
		return append(args, "-r", target)
	}
	return append(args, ".")
}

type pipAuditDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Vulns   []struct {
		ID          string   `json:"id"`
		FixVersions []string `json:"fix_versions"`
		Aliases     []string `json:"aliases"`
		Description string   `json:"description"`
	} `json:"vulns"`
}

// pipAuditNativeSeverity is recorded because pip-audit reports no severity.
const pipAuditNativeSeverity = "medium"

// parsePipAudit decodes both the current object form and the older top-level
// array form of pip-audit's JSON output.
func parsePipAudit(target string) parseFunc {
	return func(stdout []byte) ([]scanning.RawFinding, error) {
		var deps []pipAuditDependency
		trimmed := bytes.TrimSpace(stdout)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &deps); err != nil {
				return nil, err
			}
		} else {
			var doc struct {
				Dependencies []pipAuditDependency `json:"dependencies"`
			}
			if err := json.Unmarshal(trimmed, &doc); err != nil {
				return nil, err
			}
			deps = doc.Dependencies
		}

		var out []scanning.RawFinding
		for _, d := range deps {
			for _, v := range d.Vulns {
				cve := firstCVE(append([]string{v.ID}, v.Aliases...))
				var fixed string
				if len(v.FixVersions) > 0 {
					fixed = v.FixVersions[0]
				}
				out = append(out, scanning.RawFinding{
					Tool:              scanning.ToolPipAudit,
					Severity:          pipAuditNativeSeverity,
					VulnerabilityType: "CVE",
					Title:             scanner.Truncate(fmt.Sprintf("%s in %s", v.ID, d.Name), scanning.MaxTitleLen),
					Description:       v.Description,
					FilePath:          target,
					CVEID:             scanner.Truncate(cve, scanning.MaxCVEIDLen),
					PackageName:       scanner.Truncate(d.Name, scanning.MaxPackageNameLen),
					PackageVersion:    scanner.Truncate(d.Version, scanning.MaxVersionLen),
					FixedVersion:      scanner.Truncate(fixed, scanning.MaxVersionLen),
					RawData:           v,
				})
			}
		}
		return out, nil
	}
}

func firstCVE(ids []string) string {
	for _, id := range ids {
		if strings.HasPrefix(strings.ToUpper(id), "CVE-") {
			return id
		}
	}
	return ""
}

type npmAuditReport struct {
	Vulnerabilities map[string]npmVulnerability `json:"vulnerabilities"`
	Error           *struct {
		Code    string `json:"code"`
		Summary string `json:"summary"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

type npmVulnerability struct {
	Name         string            `json:"name"`
	Severity     string            `json:"severity"`
	Range        string            `json:"range"`
	Via          []json.RawMessage `json:"via"`
	FixAvailable json.RawMessage   `json:"fixAvailable"`
}

// npmAdvisory is the object form of a "via" entry. String entries name
// another vulnerable package and are skipped.
type npmAdvisory struct {
	Source   int    `json:"source"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Severity string `json:"severity"`
	Range    string `json:"range"`
}

var errNpmAudit = errors.New("npm audit reported an error")

// npmLockfile is the subset of package-lock.json that records installed
// versions. Version 2 and 3 lockfiles key packages by their node_modules
// path; version 1 keys top-level dependencies by name.
type npmLockfile struct {
	Packages map[string]struct {
		Version string `json:"version"`
	} `json:"packages"`
	Dependencies map[string]struct {
		Version string `json:"version"`
	} `json:"dependencies"`
}

// npmInstalledVersions reads the versions pinned in root/package-lock.json.
// A missing or unreadable lockfile yields an empty map.
func npmInstalledVersions(root string) map[string]string {
	versions := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(root, "package-lock.json"))
	if err != nil {
		return versions
	}
	var lock npmLockfile
	if json.Unmarshal(data, &lock) != nil {
		return versions
	}
	for name, dep := range lock.Dependencies {
		versions[name] = dep.Version
	}
	for path, pkg := range lock.Packages {
		name, ok := strings.CutPrefix(path, "node_modules/")
		if !ok || strings.Contains(name, "/node_modules/") || pkg.Version == "" {
			continue
		}
		versions[name] = pkg.Version
	}
	return versions
}

// parseNpmAudit decodes the npm 7+ audit report. Packages are visited in name
// order so results are stable. The installed version comes from installed;
// the advisory's vulnerable range is kept in the raw data only.
func parseNpmAudit(installed map[string]string) parseFunc {
	return func(stdout []byte) ([]scanning.RawFinding, error) {
		return npmAuditFindings(stdout, installed)
	}
}

func npmAuditFindings(stdout []byte, installed map[string]string) ([]scanning.RawFinding, error) {
	var report npmAuditReport
	if err := json.Unmarshal(stdout, &report); err != nil {
		return nil, err
	}
	if report.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", errNpmAudit, report.Error.Code, report.Error.Summary)
	}

	names := make([]string, 0, len(report.Vulnerabilities))
	for name := range report.Vulnerabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []scanning.RawFinding
	for _, name := range names {
		vuln := report.Vulnerabilities[name]
		fixed := npmFixVersion(vuln.FixAvailable)

		for _, raw := range vuln.Via {
			var adv npmAdvisory
			if err := json.Unmarshal(raw, &adv); err != nil {
				continue
			}

			id := ghsaID(adv.URL)
			if id == "" {
				id = fmt.Sprintf("npm-%d", adv.Source)
			}
			severity := adv.Severity
			if severity == "" {
				severity = vuln.Severity
			}
			title := adv.Title
			if title == "" {
				title = id
			}
			desc := title
			if adv.URL != "" {
				desc += "\n\n" + adv.URL
			}

			out = append(out, scanning.RawFinding{
				Tool:              scanning.ToolNpmAudit,
				Severity:          severity,
				VulnerabilityType: scanner.Truncate(id, scanning.MaxVulnerabilityTypeLen),
				Title:             scanner.Truncate(fmt.Sprintf("%s: %s", name, title), scanning.MaxTitleLen),
				Description:       desc,
				FilePath:          "package.json",
				PackageName:       scanner.Truncate(name, scanning.MaxPackageNameLen),
				PackageVersion:    scanner.Truncate(installed[name], scanning.MaxVersionLen),
				FixedVersion:      scanner.Truncate(fixed, scanning.MaxVersionLen),
				RawData: map[string]any{
					"advisory":         adv,
					"vulnerable_range": vuln.Range,
				},
			})
		}
	}
	return out, nil
}

// npmFixVersion reads fixAvailable, which is either a boolean or an object
// naming the fixing version.
func npmFixVersion(raw json.RawMessage) string {
	var fix struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &fix); err != nil {
		return ""
	}
	return fix.Version
}

// ghsaID extracts the advisory identifier from a GitHub advisory URL.
func ghsaID(url string) string {
	i := strings.LastIndexByte(url, '/')
	if i < 0 || !strings.HasPrefix(url[i+1:], "GHSA-") {
		return ""
	}
	return url[i+1:]
}
