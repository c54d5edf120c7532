package storage

import (
	"database/sql"
	"time"

	"remindbot/internal/reminder"
)

// ErrNotFound is returned (wrapped) when a card vanished before its clock
// could be written.
var ErrNotFound = reminder.ErrItemNotFound

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures the relational store.
//
// Driver values:
//   - "sqlite": DSN is a file path (created if missing)
//   - "postgres": DSN is a postgres:// URL
type Config struct {
	Driver       string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means 5s
	MaxOpenConns int           // 0 means 1 for sqlite, 8 for postgres
}

// cardRow mirrors the cards table. Timestamps are unix milliseconds.
type cardRow struct {
	ID           int64         `db:"card_id"`
	Name         string        `db:"name"`
	Active       bool          `db:"is_active"`
	StartDate    int64         `db:"start_date"`
	EndDate      int64         `db:"end_date"`
	Interval     sql.NullInt64 `db:"reminder_days_interval"`
	LastReminder sql.NullInt64 `db:"last_reminder_date"`
	ProjectID    int64         `db:"project_id"`
	BoardID      int64         `db:"board_id"`
	StyleID      sql.NullInt64 `db:"style_id"`
}

func (r cardRow) toItem() reminder.WorkItem {
	w := reminder.WorkItem{
		ID:        r.ID,
		Name:      r.Name,
		Active:    r.Active,
		StartDate: time.UnixMilli(r.StartDate),
		EndDate:   time.UnixMilli(r.EndDate),
		ProjectID: r.ProjectID,
		BoardID:   r.BoardID,
	}
	if r.Interval.Valid {
		v := int(r.Interval.Int64)
		w.ReminderIntervalDays = &v
	}
	if r.LastReminder.Valid {
		t := time.UnixMilli(r.LastReminder.Int64)
		w.LastReminderDate = &t
	}
	if r.StyleID.Valid {
		v := r.StyleID.Int64
		w.StyleID = &v
	}
	return w
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullMillis(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UnixMilli(), Valid: true}
}
