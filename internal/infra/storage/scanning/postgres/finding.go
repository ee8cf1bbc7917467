package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/storage"
)

var _ scanning.FindingRepository = (*findingStore)(nil)

// findingStore is the append-only PostgreSQL store of scan findings.
type findingStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewFindingStore creates a PostgreSQL-backed finding repository.
func NewFindingStore(pool *pgxpool.Pool, tracer trace.Tracer) *findingStore {
	return &findingStore{db: pool, tracer: tracer}
}

const appendFindingQuery = `
INSERT INTO scan_findings (
    finding_id, job_id, severity, vulnerability_type, title, description,
    file_path, line_number, cve_id, package_name, package_version, fixed_version,
    raw_data, is_diagnostic, reason, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

// AppendFinding inserts a single finding.
func (s *findingStore) AppendFinding(ctx context.Context, f *scanning.Finding) error {
	dbAttrs := storage.DBAttributes(
		attribute.String("job_id", f.JobID().String()),
		attribute.String("finding_id", f.FindingID().String()),
		attribute.String("severity", f.Severity().String()),
		attribute.Bool("is_diagnostic", f.IsDiagnostic()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.append_finding", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		line := pgtype.Int4{Int32: int32(f.LineNumber()), Valid: f.LineNumber() > 0}
		_, err := s.db.Exec(ctx, appendFindingQuery,
			f.FindingID(),
			f.JobID(),
			f.Severity().String(),
			f.VulnerabilityType(),
			f.Title(),
			f.Description(),
			f.FilePath(),
			line,
			f.CVEID(),
			f.PackageName(),
			f.PackageVersion(),
			f.FixedVersion(),
			[]byte(f.RawData()),
			f.IsDiagnostic(),
			f.Reason().String(),
			f.CreatedAt(),
		)
		if err != nil {
			return fmt.Errorf("insert finding for job %s: %w", f.JobID(), err)
		}
		return nil
	})
}

const listFindingsQuery = `
SELECT finding_id, job_id, severity, vulnerability_type, title, description,
       file_path, line_number, cve_id, package_name, package_version, fixed_version,
       raw_data, is_diagnostic, reason, created_at
FROM scan_findings
WHERE job_id = $1
ORDER BY id`

// ListFindings returns the job's findings in insertion order.
func (s *findingStore) ListFindings(ctx context.Context, jobID uuid.UUID) ([]*scanning.Finding, error) {
	dbAttrs := storage.DBAttributes(attribute.String("job_id", jobID.String()))

	var findings []*scanning.Finding
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_findings", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		rows, err := s.db.Query(ctx, listFindingsQuery, jobID)
		if err != nil {
			return fmt.Errorf("list findings for job %s: %w", jobID, err)
		}
		defer rows.Close()

		for rows.Next() {
			f, err := scanFinding(rows)
			if err != nil {
				return fmt.Errorf("scan finding row: %w", err)
			}
			findings = append(findings, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

// CountFindings returns the number of findings recorded for the job.
func (s *findingStore) CountFindings(ctx context.Context, jobID uuid.UUID) (int, error) {
	dbAttrs := storage.DBAttributes(attribute.String("job_id", jobID.String()))

	var count int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.count_findings", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM scan_findings WHERE job_id = $1`, jobID).Scan(&count); err != nil {
			return fmt.Errorf("count findings for job %s: %w", jobID, err)
		}
		return nil
	})
	return int(count), err
}

func scanFinding(row pgx.Row) (*scanning.Finding, error) {
	var (
		findingID, jobID pgtype.UUID
		severity         string
		vulnType         string
		title            string
		description      string
		filePath         string
		line             pgtype.Int4
		cveID            string
		packageName      string
		packageVersion   string
		fixedVersion     string
		rawData          []byte
		diagnostic       bool
		reason           string
		createdAt        time.Time
	)
	err := row.Scan(
		&findingID, &jobID, &severity, &vulnType, &title, &description,
		&filePath, &line, &cveID, &packageName, &packageVersion, &fixedVersion,
		&rawData, &diagnostic, &reason, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	return scanning.ReconstructFinding(
		uuid.UUID(findingID.Bytes), uuid.UUID(jobID.Bytes),
		scanning.Severity(severity),
		vulnType, title, description, filePath,
		int(line.Int32),
		cveID, packageName, packageVersion, fixedVersion,
		rawData,
		diagnostic,
		scanning.ReasonCode(reason),
		createdAt,
	), nil
}
