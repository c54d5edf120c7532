package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/reminder"
)

var _ reminder.ItemStore = (*Store)(nil)

const cardColumns = `card_id, name, is_active, start_date, end_date,
	reminder_days_interval, last_reminder_date, project_id, board_id, style_id`

// ListDueCandidates returns active cards with an interval whose
// [start_date, end_date] range contains today, keyed by card_id > after.
// The returned cursor is the last card_id of the page, or after when empty.
func (s *Store) ListDueCandidates(ctx context.Context, today time.Time, after int64, limit int) ([]reminder.WorkItem, int64, error) {
	if limit <= 0 {
		return nil, after, errors.New("limit must be positive")
	}
	day := today.UnixMilli()
	var rows []cardRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+cardColumns+`
		FROM cards
		WHERE is_active = ?
		  AND reminder_days_interval IS NOT NULL
		  AND start_date <= ?
		  AND end_date >= ?
		  AND card_id > ?
		ORDER BY card_id
		LIMIT ?`),
		true, day, day, after, limit,
	)
	if err != nil {
		return nil, after, fmt.Errorf("listing due candidates: %w", err)
	}

	out := make([]reminder.WorkItem, 0, len(rows))
	next := after
	for _, r := range rows {
		out = append(out, r.toItem())
		next = r.ID
	}
	return out, next, nil
}

func (s *Store) ListAssignments(ctx context.Context, itemID int64) ([]reminder.RecipientID, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.q(`SELECT user_id FROM assigns WHERE card_id = ? ORDER BY assign_id`), itemID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments of card %d: %w", itemID, err)
	}
	out := make([]reminder.RecipientID, len(ids))
	for i, id := range ids {
		out[i] = reminder.RecipientID(id)
	}
	return out, nil
}

func (s *Store) UpdateLastReminder(ctx context.Context, itemID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE cards SET last_reminder_date = ? WHERE card_id = ?`), at.UnixMilli(), itemID)
	if err != nil {
		return fmt.Errorf("updating card %d: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("card %d: %w", itemID, ErrNotFound)
	}
	return nil
}

func (s *Store) FindProject(ctx context.Context, id int64) (reminder.Project, bool, error) {
	var p reminder.Project
	ok, err := s.getOne(ctx, &p, `SELECT project_id AS id, name FROM projects WHERE project_id = ?`, id)
	return p, ok, err
}

func (s *Store) FindBoard(ctx context.Context, id int64) (reminder.Board, bool, error) {
	var b reminder.Board
	ok, err := s.getOne(ctx, &b, `SELECT board_id AS id, name FROM boards WHERE board_id = ?`, id)
	return b, ok, err
}

func (s *Store) FindStyle(ctx context.Context, id int64) (reminder.Style, bool, error) {
	var st reminder.Style
	ok, err := s.getOne(ctx, &st, `SELECT style_id AS id, name AS token FROM styles WHERE style_id = ?`, id)
	return st, ok, err
}

func (s *Store) getOne(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := s.db.GetContext(ctx, dest, s.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
