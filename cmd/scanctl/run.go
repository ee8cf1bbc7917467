package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"gopkg.in/yaml.v3"

	appScanning "github.com/ahrav/scan-orchestrator/internal/app/scanning"
	"github.com/ahrav/scan-orchestrator/internal/domain/events"
	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/eventbus/memory"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/container"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/rasp"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/sast"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/sca"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/source"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
	memoryStore "github.com/ahrav/scan-orchestrator/internal/infra/storage/scanning/memory"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
	"github.com/ahrav/scan-orchestrator/pkg/common/otel"
)

var errScanFailed = errors.New("scan failed")

// scanFile is the on-disk definition of a single scan.
//
//	project_id: web-shop
//	scan_type: container
//	config:
//	  image_name: nginx:1.25
type scanFile struct {
	ProjectID string         `yaml:"project_id"`
	ScanType  string         `yaml:"scan_type"`
	Config    map[string]any `yaml:"config"`
}

func loadScanFile(path string) (scanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return scanFile{}, fmt.Errorf("open scan file: %w", err)
	}
	defer f.Close()

	return parseScanFile(f)
}

func parseScanFile(r io.Reader) (scanFile, error) {
	var def scanFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return scanFile{}, fmt.Errorf("decode scan file: %w", err)
	}
	if def.ProjectID == "" {
		return scanFile{}, errors.New("scan file: project_id is required")
	}
	if def.ScanType == "" {
		return scanFile{}, errors.New("scan file: scan_type is required")
	}
	return def, nil
}

// rawConfig renders the yaml config block as the JSON document the scan
// service expects.
func (d scanFile) rawConfig() (json.RawMessage, error) {
	if len(d.Config) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(d.Config)
	if err != nil {
		return nil, fmt.Errorf("encode scan config: %w", err)
	}
	return b, nil
}

type runOptions struct {
	UploadsRoot string
	RASPURL     string
	RASPToken   string
	// Scanners replaces the default adapter set when non-empty.
	Scanners []scanning.Scanner
}

type report struct {
	Job      jobReport       `json:"job"`
	Findings []findingReport `json:"findings"`
}

type jobReport struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	ScanType    string     `json:"scan_type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ResultCount int        `json:"result_count"`
}

type findingReport struct {
	Severity          string `json:"severity"`
	VulnerabilityType string `json:"vulnerability_type"`
	Title             string `json:"title"`
	FilePath          string `json:"file_path,omitempty"`
	LineNumber        int    `json:"line_number,omitempty"`
	CVEID             string `json:"cve_id,omitempty"`
	PackageName       string `json:"package_name,omitempty"`
	PackageVersion    string `json:"package_version,omitempty"`
	FixedVersion      string `json:"fixed_version,omitempty"`
	Diagnostic        bool   `json:"diagnostic,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

func defaultScanners(opts runOptions, log *logger.Logger) []scanning.Scanner {
	runner := toolexec.NewExecRunner(log)
	locator := source.NewLocator(opts.UploadsRoot)

	raspCfg := rasp.DefaultConfig()
	raspCfg.BaseURL = opts.RASPURL
	raspCfg.Token = opts.RASPToken

	return []scanning.Scanner{
		sast.New(sast.DefaultConfig(), locator, runner, log),
		sca.New(sca.DefaultConfig(), locator, runner, log),
		container.New(container.DefaultConfig(), runner, log),
		rasp.New(rasp.NewClient(raspCfg), log, tracenoop.NewTracerProvider().Tracer("scanctl")),
	}
}

// runScan executes one scan against in-memory stores, waits for it to reach a
// terminal state and writes the report to out. A failed job is reported and
// then returned as errScanFailed.
func runScan(ctx context.Context, def scanFile, opts runOptions, log *logger.Logger, out io.Writer) error {
	rawCfg, err := def.rawConfig()
	if err != nil {
		return err
	}

	scanners := opts.Scanners
	if len(scanners) == 0 {
		scanners = defaultScanners(opts, log)
	}
	dispatcher, err := appScanning.NewDispatcher(scanners...)
	if err != nil {
		return err
	}

	metrics, err := appScanning.NewRunnerMetrics(otel.NewMeterProvider("scanctl"))
	if err != nil {
		return err
	}

	publisher := memory.NewPublisher()
	unsubscribe, err := publisher.Subscribe(func(ctx context.Context, e events.DomainEvent) error {
		log.Debug(ctx, "job event", "event_type", string(e.Type), "key", e.Key)
		return nil
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	jobs := memoryStore.NewJobStore()
	findings := memoryStore.NewFindingStore(jobs)
	tracer := tracenoop.NewTracerProvider().Tracer("scanctl")

	ctx, span := otel.AddSpan(ctx, tracer, "scanctl.run",
		attribute.String("project_id", def.ProjectID),
		attribute.String("scan_type", def.ScanType),
	)
	defer span.End()

	jobRunner := appScanning.NewJobRunner(jobs, findings, dispatcher, publisher, log, tracer, metrics)
	svc := appScanning.NewScanService(jobs, findings, jobRunner, publisher, nil, log, tracer)

	job, err := svc.CreateScan(ctx, appScanning.CreateScanCommand{
		ProjectID: def.ProjectID,
		ScanType:  def.ScanType,
		Config:    rawCfg,
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		jobRunner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	view, err := svc.GetScan(ctx, job.JobID())
	if err != nil {
		return err
	}
	results, err := svc.ListFindings(ctx, job.JobID())
	if err != nil {
		return err
	}

	rep := buildReport(view, results)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if view.Job.Status() == scanning.JobStatusFailed {
		return errScanFailed
	}
	return nil
}

func buildReport(view appScanning.ScanView, results []*scanning.Finding) report {
	job := view.Job
	rep := report{
		Job: jobReport{
			ID:          job.JobID().String(),
			ProjectID:   job.ProjectID(),
			ScanType:    job.ScanType().String(),
			Status:      job.Status().String(),
			CreatedAt:   job.CreatedAt(),
			ResultCount: view.ResultCount,
		},
		Findings: make([]findingReport, 0, len(results)),
	}
	if t, ok := job.CompletedAt(); ok {
		rep.Job.CompletedAt = &t
	}

	for _, f := range results {
		rep.Findings = append(rep.Findings, findingReport{
			Severity:          f.Severity().String(),
			VulnerabilityType: f.VulnerabilityType(),
			Title:             f.Title(),
			FilePath:          f.FilePath(),
			LineNumber:        f.LineNumber(),
			CVEID:             f.CVEID(),
			PackageName:       f.PackageName(),
			PackageVersion:    f.PackageVersion(),
			FixedVersion:      f.FixedVersion(),
			Diagnostic:        f.IsDiagnostic(),
			Reason:            f.Reason().String(),
		})
	}
	return rep
}
