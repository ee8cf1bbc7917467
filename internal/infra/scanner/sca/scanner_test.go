package sca

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec/toolexectest"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

type stubLocator struct {
	path string
	ok   bool
}

func (l stubLocator) Locate(string) (string, bool) { return l.path, l.ok }

const depCheckReportJSON = `{
  "reportSchema": "1.1",
  "dependencies": [
    {
      "fileName": "commons-text-1.9.jar",
      "filePath": "%ROOT%/lib/commons-text-1.9.jar",
      "packages": [{"id": "pkg:maven/org.apache.commons/commons-text@1.9", "confidence": "HIGH"}],
      "vulnerabilities": [
        {
          "source": "NVD",
          "name": "CVE-2022-42889",
          "severity": "CRITICAL",
          "cvssv3": {"baseScore": 9.8, "baseSeverity": "CRITICAL"},
          "description": "Apache Commons Text performs variable interpolation."
        }
      ]
    },
    {"fileName": "requirements.txt", "filePath": "%ROOT%/requirements.txt"}
  ]
}`

const pipAuditJSON = `{
  "dependencies": [
    {"name": "flask", "version": "0.5", "vulns": [
      {"id": "PYSEC-2019-179", "fix_versions": ["1.0"], "aliases": ["CVE-2019-1010083"], "description": "Unexpected memory usage."}
    ]},
    {"name": "requests", "version": "2.31.0", "vulns": []}
  ],
  "fixes": []
}`

const npmAuditJSON = `{
  "auditReportVersion": 2,
  "vulnerabilities": {
    "lodash": {
      "name": "lodash",
      "severity": "high",
      "range": "<=4.17.20",
      "via": [
        {"source": 1094499, "name": "lodash", "title": "Prototype Pollution in lodash",
         "url": "https://github.com/advisories/GHSA-p6mc-m468-83gw", "severity": "high", "range": "<4.17.21"}
      ],
      "fixAvailable": {"name": "lodash", "version": "4.17.21", "isSemVerMajor": false}
    },
    "express": {
      "name": "express",
      "severity": "moderate",
      "range": "<4.19.2",
      "via": ["body-parser", {"source": 1096820, "name": "express", "title": "Open redirect",
        "url": "https://github.com/advisories/GHSA-rv95-896h-c2vc", "severity": "moderate"}],
      "fixAvailable": true
    }
  }
}`

const npmLockJSON = `{
  "name": "shop",
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "shop", "dependencies": {"lodash": "^4.17.0"}},
    "node_modules/lodash": {"version": "4.17.20"},
    "node_modules/express/node_modules/lodash": {"version": "4.17.15"}
  }
}`

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(root, n), []byte("x\n"), 0o644))
	}
	return root
}

func newJob(t *testing.T) *scanning.Job {
	t.Helper()
	job, err := scanning.NewJob("5", scanning.ScanTypeSCA, nil)
	require.NoError(t, err)
	return job
}

func versionCheck(binary string) any {
	return mock.MatchedBy(func(c toolexec.Command) bool {
		return c.Path == binary && len(c.Args) == 1 && c.Args[0] == "--version"
	})
}

func invoke(binary string) any {
	return mock.MatchedBy(func(c toolexec.Command) bool {
		return c.Path == binary && !(len(c.Args) == 1 && c.Args[0] == "--version")
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DependencyCheckBinary = "dependency-check"
	return cfg
}

func TestDetectEcosystems(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  []Ecosystem
	}{
		{name: "none", files: []string{"README.md"}},
		{name: "python via pyproject", files: []string{"pyproject.toml"}, want: []Ecosystem{EcosystemPython}},
		{name: "detection order", files: []string{"build.gradle.kts", "package.json", "setup.py", "pom.xml"},
			want: []Ecosystem{EcosystemPython, EcosystemNode, EcosystemMaven, EcosystemGradle}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectEcosystems(writeFiles(t, tt.files...)))
		})
	}
}

func TestScanWithDependencyCheck(t *testing.T) {
	root := writeFiles(t, "requirements.txt")
	job := newJob(t)

	runner := new(toolexectest.Runner)
	runner.On("Run", mock.Anything, versionCheck("dependency-check")).Return(toolexectest.Output("Dependency-Check Core version 9.0.9"), nil)
	runner.On("Run", mock.Anything, invoke("dependency-check")).
		Run(func(args mock.Arguments) {
			cmd := args.Get(1).(toolexec.Command)
			var outDir string
			for i, a := range cmd.Args {
				if a == "--out" {
					outDir = cmd.Args[i+1]
				}
			}
			report := []byte(replaceRoot(depCheckReportJSON, root))
			require.NoError(t, os.WriteFile(filepath.Join(outDir, reportFileName), report, 0o644))
		}).
		Return(toolexec.Result{}, nil)

	s := New(testConfig(), stubLocator{path: root, ok: true}, runner, logger.Noop())
	findings, err := s.Scan(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, scanning.ToolDependencyCheck, f.Tool)
	assert.Equal(t, "CVE-2022-42889", f.CVEID)
	assert.Equal(t, "org.apache.commons/commons-text", f.PackageName)
	assert.Equal(t, "1.9", f.PackageVersion)
	assert.Equal(t, filepath.Join("lib", "commons-text-1.9.jar"), f.FilePath)
	assert.Equal(t, scanning.SeverityCritical, scanning.NormalizeSeverity(f.Tool, f.Severity))
	runner.AssertExpectations(t)
}

func TestScanFallsBackToAuditTools(t *testing.T) {
	root := writeFiles(t, "requirements.txt", "package.json", "pom.xml")
	require.NoError(t, os.WriteFile(filepath.Join(root, "package-lock.json"), []byte(npmLockJSON), 0o644))

	runner := new(toolexectest.Runner)
	runner.On("Run", mock.Anything, versionCheck("dependency-check")).Return(toolexectest.Output("dependency-check not installed"), nil)
	runner.On("Run", mock.Anything, versionCheck("pip-audit")).Return(toolexectest.Output("pip-audit 2.7.3"), nil)
	runner.On("Run", mock.Anything, versionCheck("npm")).Return(toolexectest.Output("10.2.4"), nil)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(c toolexec.Command) bool {
		return c.Path == "pip-audit" && c.Dir == root &&
			assert.ObjectsAreEqual([]string{"-f", "json", "--desc", "-r", "requirements.txt"}, c.Args)
	})).Return(toolexectest.Output(pipAuditJSON), &toolexec.ExitError{Code: 1})
	runner.On("Run", mock.Anything, invoke("npm")).Return(toolexectest.Output(npmAuditJSON), &toolexec.ExitError{Code: 1})

	s := New(testConfig(), stubLocator{path: root, ok: true}, runner, logger.Noop())
	findings, err := s.Scan(context.Background(), newJob(t))
	require.NoError(t, err)
	require.Len(t, findings, 4)

	pip := findings[0]
	assert.Equal(t, scanning.ToolPipAudit, pip.Tool)
	assert.Equal(t, "CVE-2019-1010083", pip.CVEID)
	assert.Equal(t, "1.0", pip.FixedVersion)
	assert.Equal(t, "requirements.txt", pip.FilePath)
	assert.Equal(t, scanning.SeverityMedium, scanning.NormalizeSeverity(pip.Tool, pip.Severity))

	express := findings[1]
	assert.Equal(t, "GHSA-rv95-896h-c2vc", express.VulnerabilityType)
	assert.Empty(t, express.FixedVersion)
	assert.Equal(t, scanning.SeverityMedium, scanning.NormalizeSeverity(express.Tool, express.Severity))

	assert.Empty(t, express.PackageVersion)

	lodash := findings[2]
	assert.Equal(t, "lodash", lodash.PackageName)
	assert.Equal(t, "4.17.20", lodash.PackageVersion)
	assert.Equal(t, "4.17.21", lodash.FixedVersion)
	assert.Equal(t, "<=4.17.20", lodash.RawData.(map[string]any)["vulnerable_range"])

	maven := findings[3]
	assert.True(t, maven.Diagnostic)
	assert.Equal(t, scanning.ReasonEcosystemUnsupported, maven.Reason)
	runner.AssertExpectations(t)
}

func TestScanAllAuditToolsUnavailable(t *testing.T) {
	root := writeFiles(t, "setup.py", "package.json")

	runner := new(toolexectest.Runner)
	runner.On("Run", mock.Anything, mock.Anything).Return(toolexec.Result{}, toolexec.ErrToolNotFound)

	s := New(testConfig(), stubLocator{path: root, ok: true}, runner, logger.Noop())
	findings, err := s.Scan(context.Background(), newJob(t))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, scanning.ReasonAuditToolsUnavailable, findings[0].Reason)
}

func TestScanDiagnostics(t *testing.T) {
	t.Run("project missing", func(t *testing.T) {
		s := New(testConfig(), stubLocator{}, new(toolexectest.Runner), logger.Noop())
		findings, err := s.Scan(context.Background(), newJob(t))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scanning.ReasonProjectPathNotFound, findings[0].Reason)
	})

	t.Run("no manifests", func(t *testing.T) {
		s := New(testConfig(), stubLocator{path: writeFiles(t, "main.go"), ok: true}, new(toolexectest.Runner), logger.Noop())
		findings, err := s.Scan(context.Background(), newJob(t))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scanning.ReasonNoEcosystemDetected, findings[0].Reason)
	})

	t.Run("npm error object", func(t *testing.T) {
		root := writeFiles(t, "package.json")
		runner := new(toolexectest.Runner)
		runner.On("Run", mock.Anything, versionCheck("dependency-check")).Return(toolexec.Result{}, toolexec.ErrToolNotFound)
		runner.On("Run", mock.Anything, versionCheck("npm")).Return(toolexectest.Output("10.2.4"), nil)
		runner.On("Run", mock.Anything, invoke("npm")).
			Return(toolexectest.Output(`{"error":{"code":"ENOLOCK","summary":"This command requires an existing lockfile."}}`), &toolexec.ExitError{Code: 1})

		s := New(testConfig(), stubLocator{path: root, ok: true}, runner, logger.Noop())
		findings, err := s.Scan(context.Background(), newJob(t))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scanning.ReasonOutputUnparsable, findings[0].Reason)
	})
}

func TestParsePipAuditLegacyArray(t *testing.T) {
	findings, err := parsePipAudit(".")([]byte(`[{"name":"django","version":"3.2","vulns":[{"id":"CVE-2023-36053","fix_versions":[]}]}]`))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "CVE-2023-36053", findings[0].CVEID)
	assert.Empty(t, findings[0].FixedVersion)
}

func TestNpmInstalledVersions(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, npmInstalledVersions(root))

	lock := `{"lockfileVersion": 1, "dependencies": {"minimist": {"version": "1.2.5"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "package-lock.json"), []byte(lock), 0o644))
	assert.Equal(t, map[string]string{"minimist": "1.2.5"}, npmInstalledVersions(root))
}

func TestParsePURL(t *testing.T) {
	tests := []struct {
		purl, name, version string
		ok                  bool
	}{
		{"pkg:maven/org.apache.commons/commons-text@1.9", "org.apache.commons/commons-text", "1.9", true},
		{"pkg:npm/%40angular/core@12.0.0?arch=x", "@angular/core", "12.0.0", true},
		{"pkg:npm/%40angular/core@1.0", "@angular/core", "1.0", true},
		{"pkg:golang/github.com/gorilla/mux@v1.8.0#pkg", "github.com/gorilla/mux", "v1.8.0", true},
		{"pkg:pypi/flask", "flask", "", true},
		{"cpe:2.3:a:apache:commons_text", "", "", false},
	}
	for _, tt := range tests {
		name, version, ok := parsePURL(tt.purl)
		assert.Equal(t, tt.ok, ok, tt.purl)
		assert.Equal(t, tt.name, name, tt.purl)
		assert.Equal(t, tt.version, version, tt.purl)
	}
}

func replaceRoot(s, root string) string {
	return strings.ReplaceAll(s, "%ROOT%", filepath.ToSlash(root))
}
