package storage

import (
	"context"
	"fmt"

	"remindbot/internal/reminder"
)

// The writers below exist for seeding and tests; in production cards are
// owned by the board application sharing the database.

func (s *Store) PutProject(ctx context.Context, p reminder.Project) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO projects (project_id, name) VALUES (?, ?)
		ON CONFLICT (project_id) DO UPDATE SET name = excluded.name`), p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("put project %d: %w", p.ID, err)
	}
	return nil
}

func (s *Store) PutBoard(ctx context.Context, b reminder.Board, projectID int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO boards (board_id, project_id, name) VALUES (?, ?, ?)
		ON CONFLICT (board_id) DO UPDATE SET project_id = excluded.project_id, name = excluded.name`),
		b.ID, projectID, b.Name)
	if err != nil {
		return fmt.Errorf("put board %d: %w", b.ID, err)
	}
	return nil
}

func (s *Store) PutStyle(ctx context.Context, st reminder.Style) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO styles (style_id, name) VALUES (?, ?)
		ON CONFLICT (style_id) DO UPDATE SET name = excluded.name`), st.ID, st.Token)
	if err != nil {
		return fmt.Errorf("put style %d: %w", st.ID, err)
	}
	return nil
}

// PutCard inserts or replaces a card and its assignments. Assignment order is
// preserved as given.
func (s *Store) PutCard(ctx context.Context, w reminder.WorkItem, assignees []reminder.RecipientID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (card_id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			reminder_days_interval = excluded.reminder_days_interval,
			last_reminder_date = excluded.last_reminder_date,
			project_id = excluded.project_id,
			board_id = excluded.board_id,
			style_id = excluded.style_id`),
		w.ID, w.Name, w.Active, w.StartDate.UnixMilli(), w.EndDate.UnixMilli(),
		nullInt(w.ReminderIntervalDays), nullMillis(w.LastReminderDate),
		w.ProjectID, w.BoardID, nullInt64(w.StyleID),
	)
	if err != nil {
		return fmt.Errorf("put card %d: %w", w.ID, err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM assigns WHERE card_id = ?`), w.ID); err != nil {
		return fmt.Errorf("clearing assignments of card %d: %w", w.ID, err)
	}
	for _, id := range assignees {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO assigns (card_id, user_id) VALUES (?, ?)`), w.ID, string(id)); err != nil {
			return fmt.Errorf("assigning %s to card %d: %w", id, w.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM assigns WHERE card_id = ?`), id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM cards WHERE card_id = ?`), id)
	return err
}

// GetCard returns a card regardless of the due filter.
func (s *Store) GetCard(ctx context.Context, id int64) (reminder.WorkItem, bool, error) {
	var r cardRow
	ok, err := s.getOne(ctx, &r, `SELECT `+cardColumns+` FROM cards WHERE card_id = ?`, id)
	if !ok || err != nil {
		return reminder.WorkItem{}, ok, err
	}
	return r.toItem(), true, nil
}
