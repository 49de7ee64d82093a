package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"event-rsvp/pkg/resources"
)

// invalidTextRepresentation is raised when an id is not a valid uuid.
const invalidTextRepresentation = "22P02"

const eventColumns = "id::text, title, description, date, time, location, category, " +
	"max_attendees, current_attendees, image_url, price, created_at"

var insertColumns = []string{
	"title", "description", "date", "time", "location", "category",
	"max_attendees", "current_attendees", "image_url", "price",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		title             TEXT,
		description       TEXT,
		date              DATE,
		time              TEXT,
		location          TEXT,
		category          TEXT,
		max_attendees     INTEGER CHECK (max_attendees >= 0),
		current_attendees INTEGER NOT NULL DEFAULT 0 CHECK (current_attendees >= 0),
		image_url         TEXT,
		price             NUMERIC(10, 2),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS event_confirmations (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_session_id TEXT NOT NULL,
		event_id        UUID NOT NULL REFERENCES events (id) ON DELETE CASCADE,
		confirmed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_session_id, event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS events_date_idx ON events (date)`,
}

type Repository interface {
	EventLister
	EventInserter
	AttendanceRepository
	EnsureSchema(ctx context.Context) error
	SaveEvent(ctx context.Context, event *Event) (*Event, error)
	GetEventById(ctx context.Context, id string) (*Event, error)
}

type repository struct {
	tracer  trace.Tracer
	metrics *DBMetrics
	pool    resources.DBInstance
}

func NewRepository(pool resources.DBInstance) Repository {
	return &repository{
		tracer:  otel.GetTracerProvider().Tracer("event-rsvp/core"),
		metrics: NewDBMetrics(),
		pool:    pool,
	}
}

func (r *repository) EnsureSchema(ctx context.Context) (err error) {
	ctx, span := r.tracer.Start(ctx, "repository.EnsureSchema")
	defer func(start time.Time) { r.finish(ctx, span, "ensure_schema", start, err) }(time.Now())

	for _, statement := range schema {
		_, err = r.pool.Exec(ctx, statement)
		if err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}

func (r *repository) ListEvents(ctx context.Context) (_ []EventRecord, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.ListEvents")
	defer func(start time.Time) { r.finish(ctx, span, "list_events", start, err) }(time.Now())

	rows, err := r.pool.Query(ctx,
		"SELECT "+eventColumns+" FROM events ORDER BY date ASC NULLS FIRST, created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord

	for rows.Next() {
		var record EventRecord

		err = rows.Scan(eventTargets(&record)...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return records, nil
}

func (r *repository) GetEventById(ctx context.Context, id string) (_ *Event, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.GetEventById")
	defer func(start time.Time) { r.finish(ctx, span, "get_event_by_id", start, err) }(time.Now())

	event, err := scanEvent(r.pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get event by id: %w", err)
	}

	return event, nil
}

func (r *repository) SaveEvent(ctx context.Context, event *Event) (_ *Event, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.SaveEvent")
	defer func(start time.Time) { r.finish(ctx, span, "save_event", start, err) }(time.Now())

	values, err := insertValues(*event)
	if err != nil {
		return nil, err
	}

	var saved *Event

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		var txErr error

		saved, txErr = scanEvent(tx.QueryRow(ctx,
			"INSERT INTO events (title, description, date, time, location, category, "+
				"max_attendees, current_attendees, image_url, price) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) "+
				"RETURNING "+eventColumns,
			values...))

		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save event: %w", err)
	}

	return saved, nil
}

// InsertEvents writes the whole batch with a single COPY, so either every row lands or none does.
func (r *repository) InsertEvents(ctx context.Context, events []Event) (_ int64, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.InsertEvents")
	defer func(start time.Time) { r.finish(ctx, span, "insert_events", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("events.count", len(events)))

	count, err := r.pool.CopyFrom(ctx, pgx.Identifier{"events"}, insertColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			return insertValues(events[i])
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to insert events: %w", err)
	}

	return count, nil
}

func (r *repository) ListConfirmedEventIDs(ctx context.Context, sessionID string) (_ []string, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.ListConfirmedEventIDs")
	defer func(start time.Time) { r.finish(ctx, span, "list_confirmed_event_ids", start, err) }(time.Now())

	rows, err := r.pool.Query(ctx,
		"SELECT event_id::text FROM event_confirmations WHERE user_session_id = $1 ORDER BY confirmed_at",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}

	return ids, nil
}

func (r *repository) ConfirmAttendance(ctx context.Context, sessionID string, eventID string) (_ *Event, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.ConfirmAttendance")
	defer func(start time.Time) { r.finish(ctx, span, "confirm_attendance", start, err) }(time.Now())

	var event *Event

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		var maxAttendees, currentAttendees int

		txErr := tx.QueryRow(ctx,
			"SELECT COALESCE(max_attendees, 0), current_attendees FROM events WHERE id = $1 FOR UPDATE",
			eventID).Scan(&maxAttendees, &currentAttendees)
		if noSuchRow(txErr) {
			return ErrEventNotFound
		}

		if txErr != nil {
			return txErr
		}

		tag, txErr := tx.Exec(ctx,
			"INSERT INTO event_confirmations (user_session_id, event_id) VALUES ($1, $2) "+
				"ON CONFLICT (user_session_id, event_id) DO NOTHING",
			sessionID, eventID)
		if txErr != nil {
			return txErr
		}

		if tag.RowsAffected() == 0 {
			event, txErr = scanEvent(tx.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = $1", eventID))
			return txErr
		}

		if currentAttendees >= maxAttendees {
			return ErrEventFull
		}

		event, txErr = scanEvent(tx.QueryRow(ctx,
			"UPDATE events SET current_attendees = current_attendees + 1 WHERE id = $1 RETURNING "+eventColumns,
			eventID))

		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm attendance: %w", err)
	}

	return event, nil
}

func (r *repository) CancelAttendance(ctx context.Context, sessionID string, eventID string) (_ *Event, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.CancelAttendance")
	defer func(start time.Time) { r.finish(ctx, span, "cancel_attendance", start, err) }(time.Now())

	var event *Event

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		tag, txErr := tx.Exec(ctx,
			"DELETE FROM event_confirmations WHERE event_id = $1 AND user_session_id = $2",
			eventID, sessionID)
		if txErr != nil {
			return txErr
		}

		if tag.RowsAffected() == 0 {
			event, txErr = scanEvent(tx.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = $1", eventID))
			return txErr
		}

		event, txErr = decrementAttendees(ctx, tx, eventID)

		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel attendance: %w", err)
	}

	return event, nil
}

func (r *repository) ListConfirmations(ctx context.Context) (_ []ConfirmationDetail, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.ListConfirmations")
	defer func(start time.Time) { r.finish(ctx, span, "list_confirmations", start, err) }(time.Now())

	rows, err := r.pool.Query(ctx,
		`SELECT c.id::text, c.user_session_id, c.event_id::text, c.confirmed_at,
		        COALESCE(e.title, ''), e.date, COALESCE(e.time, ''), COALESCE(e.location, '')
		 FROM event_confirmations c
		 JOIN events e ON e.id = c.event_id
		 ORDER BY c.confirmed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}

	details, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ConfirmationDetail, error) {
		var (
			d    ConfirmationDetail
			date *time.Time
		)

		scanErr := row.Scan(&d.Id, &d.UserSessionId, &d.EventId, &d.ConfirmedAt,
			&d.Event.Title, &date, &d.Event.Time, &d.Event.Location)
		if date != nil {
			d.Event.Date = date.Format(DateLayout)
		}

		return d, scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}

	return details, nil
}

func (r *repository) DeleteConfirmation(ctx context.Context, id string) (_ *Revocation, err error) {
	ctx, span := r.tracer.Start(ctx, "repository.DeleteConfirmation")
	defer func(start time.Time) { r.finish(ctx, span, "delete_confirmation", start, err) }(time.Now())

	var revocation Revocation

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		c := &revocation.Confirmation

		txErr := tx.QueryRow(ctx,
			"DELETE FROM event_confirmations WHERE id = $1 "+
				"RETURNING id::text, user_session_id, event_id::text, confirmed_at",
			id).Scan(&c.Id, &c.UserSessionId, &c.EventId, &c.ConfirmedAt)
		if noSuchRow(txErr) {
			return ErrConfirmationNotFound
		}

		if txErr != nil {
			return txErr
		}

		revocation.Event, txErr = decrementAttendees(ctx, tx, c.EventId)

		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete confirmation: %w", err)
	}

	return &revocation, nil
}

func (r *repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *repository) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
	r.metrics.Observe(ctx, op, start, err)
}

func decrementAttendees(ctx context.Context, tx pgx.Tx, eventID string) (*Event, error) {
	return scanEvent(tx.QueryRow(ctx,
		"UPDATE events SET current_attendees = GREATEST(current_attendees - 1, 0) WHERE id = $1 RETURNING "+eventColumns,
		eventID))
}

func eventTargets(r *EventRecord) []any {
	return []any{
		&r.Id, &r.Title, &r.Description, &r.Date, &r.Time, &r.Location, &r.Category,
		&r.MaxAttendees, &r.CurrentAttendees, &r.ImageUrl, &r.Price, &r.CreatedAt,
	}
}

func scanEvent(row pgx.Row) (*Event, error) {
	var record EventRecord

	err := row.Scan(eventTargets(&record)...)
	if noSuchRow(err) {
		return nil, ErrEventNotFound
	}

	if err != nil {
		return nil, err
	}

	event := NormalizeEvent(record)

	return &event, nil
}

// noSuchRow reports whether a lookup by id matched nothing, including ids that are not uuids.
func noSuchRow(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}

	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

func insertValues(event Event) ([]any, error) {
	date, err := time.Parse(DateLayout, event.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid event date %q: %w", event.Date, err)
	}

	category := event.Category
	if category == "" {
		category = DefaultCategory
	}

	return []any{
		event.Title, event.Description, date, event.Time, event.Location, category,
		event.MaxAttendees, event.CurrentAttendees, event.ImageUrl, event.Price,
	}, nil
}

/*
 * Metrics
 */

type DBMetrics struct {
	qTotal   metric.Int64Counter
	qErrors  metric.Int64Counter
	qLatency metric.Float64Histogram
}

func NewDBMetrics() *DBMetrics {
	meter := otel.Meter("event-rsvp/db")

	qTotal, _ := meter.Int64Counter("db.query.total")
	qErrors, _ := meter.Int64Counter("db.query.errors.total")
	qLatency, _ := meter.Float64Histogram("db.query.duration.ms")

	return &DBMetrics{qTotal: qTotal, qErrors: qErrors, qLatency: qLatency}
}

func (m *DBMetrics) Observe(ctx context.Context, op string, start time.Time, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgres"),
		attribute.String("db.operation", op), // ej: "confirm_attendance", "list_events"
	}

	m.qTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	ms := float64(time.Since(start).Milliseconds())
	m.qLatency.Record(ctx, ms, metric.WithAttributes(attrs...))

	if err != nil {
		m.qErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
