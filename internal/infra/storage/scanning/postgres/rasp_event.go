package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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

var _ scanning.RASPEventRepository = (*raspEventStore)(nil)

// raspEventStore is the PostgreSQL store of runtime events. The unique
// event_id column deduplicates repeated syncs.
type raspEventStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewRASPEventStore creates a PostgreSQL-backed runtime event repository.
func NewRASPEventStore(pool *pgxpool.Pool, tracer trace.Tracer) *raspEventStore {
	return &raspEventStore{db: pool, tracer: tracer}
}

const insertRASPEventQuery = `
INSERT INTO rasp_events (
    id, event_id, app_id, attack_type, severity, message, url, client_ip,
    user_agent, request_id, file_path, line_number, attack_params, stack_trace,
    raw_data, event_time, created_at, handled, handled_at, handled_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (event_id) DO NOTHING`

// SaveEvents inserts the batch in one round trip and counts the rows that
// were not already present.
func (s *raspEventStore) SaveEvents(ctx context.Context, events []*scanning.RASPEvent) (int, error) {
	dbAttrs := storage.DBAttributes(attribute.Int("events", len(events)))

	inserted := 0
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_rasp_events", dbAttrs, func(ctx context.Context) error {
		if len(events) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		batch := &pgx.Batch{}
		for _, e := range events {
			params, err := marshalOptional(e.AttackParams)
			if err != nil {
				return fmt.Errorf("encode attack params of event %s: %w", e.EventID, err)
			}
			raw, err := json.Marshal(e.RawData)
			if err != nil {
				return fmt.Errorf("encode raw data of event %s: %w", e.EventID, err)
			}
			batch.Queue(insertRASPEventQuery,
				e.ID, e.EventID, e.AppID, e.AttackType, e.Severity.String(), e.Message,
				e.URL, e.ClientIP, e.UserAgent, e.RequestID, e.FilePath,
				pgtype.Int4{Int32: int32(e.LineNumber), Valid: e.LineNumber > 0},
				params, e.StackTrace, raw, e.EventTime, e.CreatedAt,
				e.Handled, toTimestamptz(e.HandledAt), e.HandledBy,
			)
		}

		results := s.db.SendBatch(ctx, batch)
		defer results.Close()
		for _, e := range events {
			tag, err := results.Exec()
			if err != nil {
				return fmt.Errorf("insert rasp event %s: %w", e.EventID, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	return inserted, err
}

const selectRASPEventColumns = `id, event_id, app_id, attack_type, severity, message, url, client_ip,
       user_agent, request_id, file_path, line_number, attack_params, stack_trace,
       raw_data, event_time, created_at, handled, handled_at, handled_by`

// GetEvent returns scanning.ErrRASPEventNotFound when no row matches.
func (s *raspEventStore) GetEvent(ctx context.Context, id uuid.UUID) (*scanning.RASPEvent, error) {
	dbAttrs := storage.DBAttributes(attribute.String("rasp_event_id", id.String()))

	var event *scanning.RASPEvent
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_rasp_event", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		row := s.db.QueryRow(ctx, `SELECT `+selectRASPEventColumns+` FROM rasp_events WHERE id = $1`, id)
		var err error
		event, err = scanRASPEvent(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", scanning.ErrRASPEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("select rasp event %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// eventFilterClause renders the non-paging conditions of f as a WHERE
// clause and its arguments.
func eventFilterClause(f scanning.RASPEventFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.AppID != "" {
		add("app_id = $%d", f.AppID)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity.String())
	}
	if f.Handled != nil {
		add("handled = $%d", *f.Handled)
	}
	if !f.Since.IsZero() {
		add("event_time >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("event_time <= $%d", f.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListEvents returns one page of matching events, newest first, and the
// total number of matches.
func (s *raspEventStore) ListEvents(ctx context.Context, filter scanning.RASPEventFilter) (scanning.RASPEventPage, error) {
	filter = filter.Normalize()
	dbAttrs := storage.DBAttributes(
		attribute.String("app_id", filter.AppID),
		attribute.Int("page", filter.Page),
		attribute.Int("per_page", filter.PerPage),
	)

	page := scanning.RASPEventPage{Page: filter.Page, PerPage: filter.PerPage}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_rasp_events", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		where, args := eventFilterClause(filter)

		var total int64
		if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM rasp_events`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("count rasp events: %w", err)
		}
		page.Total = int(total)

		query := fmt.Sprintf(`SELECT %s FROM rasp_events%s ORDER BY event_time DESC, event_id DESC LIMIT $%d OFFSET $%d`,
			selectRASPEventColumns, where, len(args)+1, len(args)+2)
		rows, err := s.db.Query(ctx, query, append(args, filter.PerPage, filter.Offset())...)
		if err != nil {
			return fmt.Errorf("list rasp events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanRASPEvent(rows)
			if err != nil {
				return fmt.Errorf("scan rasp event row: %w", err)
			}
			page.Events = append(page.Events, e)
		}
		return rows.Err()
	})
	if err != nil {
		return scanning.RASPEventPage{}, err
	}
	return page, nil
}

const updateRASPEventQuery = `
UPDATE rasp_events
SET handled = $2, handled_at = $3, handled_by = $4
WHERE id = $1`

// UpdateEvent persists the handled state of the event.
func (s *raspEventStore) UpdateEvent(ctx context.Context, e *scanning.RASPEvent) error {
	dbAttrs := storage.DBAttributes(
		attribute.String("rasp_event_id", e.ID.String()),
		attribute.Bool("handled", e.Handled),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_rasp_event", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		tag, err := s.db.Exec(ctx, updateRASPEventQuery, e.ID, e.Handled, toTimestamptz(e.HandledAt), e.HandledBy)
		if err != nil {
			return fmt.Errorf("update rasp event %s: %w", e.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", scanning.ErrRASPEventNotFound, e.ID)
		}
		return nil
	})
}

func marshalOptional(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func scanRASPEvent(row pgx.Row) (*scanning.RASPEvent, error) {
	var (
		id                   pgtype.UUID
		e                    scanning.RASPEvent
		severity             string
		line                 pgtype.Int4
		params, raw          []byte
		eventTime, createdAt time.Time
		handledAt            pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &e.EventID, &e.AppID, &e.AttackType, &severity, &e.Message, &e.URL, &e.ClientIP,
		&e.UserAgent, &e.RequestID, &e.FilePath, &line, &params, &e.StackTrace,
		&raw, &eventTime, &createdAt, &e.Handled, &handledAt, &e.HandledBy,
	)
	if err != nil {
		return nil, err
	}

	e.ID = uuid.UUID(id.Bytes)
	e.Severity = scanning.Severity(severity)
	e.LineNumber = int(line.Int32)
	e.EventTime = eventTime
	e.CreatedAt = createdAt
	e.HandledAt = fromTimestamptz(handledAt)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &e.AttackParams); err != nil {
			return nil, fmt.Errorf("decode attack params: %w", err)
		}
	}
	if err := json.Unmarshal(raw, &e.RawData); err != nil {
		return nil, fmt.Errorf("decode raw data: %w", err)
	}
	return &e, nil
}
