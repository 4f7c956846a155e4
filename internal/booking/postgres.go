package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the booking_log table. Execute it via
// [PostgresLog.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS booking_log (
    seq           BIGSERIAL PRIMARY KEY,
    logged_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    request_id    UUID NOT NULL,
    booking_id    UUID,
    first_name    TEXT NOT NULL,
    last_name     TEXT NOT NULL,
    birthdate     TEXT NOT NULL,
    motive_id     TEXT NOT NULL,
    motive_name   TEXT NOT NULL,
    slot_id       UUID NOT NULL,
    start_time    TIMESTAMPTZ NOT NULL,
    practitioner  TEXT NOT NULL DEFAULT '',
    outcome       TEXT NOT NULL,
    error         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_booking_log_request ON booking_log(request_id);
CREATE INDEX IF NOT EXISTS idx_booking_log_patient ON booking_log(last_name, first_name);
`

// DB is the database interface used by [PostgresLog]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLog is a [Log] backed by PostgreSQL. Each append is a single
// INSERT, so atomicity per record comes from the database.
type PostgresLog struct {
	db DB
}

// Compile-time interface check.
var _ Log = (*PostgresLog)(nil)

// NewPostgresLog creates a PostgresLog on the given connection or pool. The
// caller is responsible for calling [PostgresLog.Migrate] before appending.
func NewPostgresLog(db DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Migrate executes the [Schema] DDL.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("booking: migrate: %w", err)
	}
	return nil
}

// Append inserts one audit record.
func (l *PostgresLog) Append(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO booking_log (
			logged_at, request_id, booking_id, first_name, last_name, birthdate,
			motive_id, motive_name, slot_id, start_time, practitioner, outcome, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	var bookingID any
	if rec.BookingID != uuid.Nil {
		bookingID = rec.BookingID
	}
	_, err := l.db.Exec(ctx, query,
		rec.Timestamp, rec.RequestID, bookingID, rec.FirstName, rec.LastName,
		rec.Birthdate, rec.MotiveID, rec.MotiveName, rec.SlotID, rec.StartTime,
		rec.Practitioner, rec.Outcome, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("booking: append: %w", err)
	}
	return nil
}
