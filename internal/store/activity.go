package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FocuswithJustin/tilawa/core/activity"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// GetRecord implements activity.Store.
func (s *Store) GetRecord(ctx context.Context, date string) (activity.Record, error) {
	r := activity.Record{Date: date, Badge: activity.BadgeNone}
	err := s.db.QueryRowContext(ctx, `SELECT badge FROM read_days WHERE date = ?`, date).Scan(&r.Badge)
	if err == sql.ErrNoRows {
		return r, nil
	}
	if err != nil {
		return activity.Record{}, fmt.Errorf("get record %s: %w", date, err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT verse_id FROM read_activity WHERE date = ? ORDER BY verse_id`, date)
	if err != nil {
		return activity.Record{}, fmt.Errorf("get record %s: %w", date, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return activity.Record{}, err
		}
		r.VerseIDs = append(r.VerseIDs, id)
	}
	return r, rows.Err()
}

// SaveRecord implements activity.Store by replacing the day's verse set.
func (s *Store) SaveRecord(ctx context.Context, r activity.Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO read_days (date, badge, updated_at) VALUES (?, ?, ?)
ON CONFLICT(date) DO UPDATE SET badge = excluded.badge, updated_at = excluded.updated_at`,
			r.Date, string(r.Badge), time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("save day %s: %w", r.Date, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM read_activity WHERE date = ?`, r.Date); err != nil {
			return fmt.Errorf("clear day %s: %w", r.Date, err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO read_activity (date, verse_id) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range r.VerseIDs {
			if _, err := stmt.ExecContext(ctx, r.Date, id); err != nil {
				return fmt.Errorf("save verse %s: %w", id, err)
			}
		}
		return nil
	})
}

// Records implements activity.Store.
func (s *Store) Records(ctx context.Context, from, to string) ([]activity.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT d.date, d.badge, a.verse_id
FROM read_days d LEFT JOIN read_activity a ON a.date = d.date
WHERE d.date BETWEEN ? AND ?
ORDER BY d.date, a.verse_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("records %s..%s: %w", from, to, err)
	}
	defer rows.Close()

	var out []activity.Record
	for rows.Next() {
		var (
			date  string
			badge activity.Badge
			id    sql.NullString
		)
		if err := rows.Scan(&date, &badge, &id); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].Date != date {
			out = append(out, activity.Record{Date: date, Badge: badge})
		}
		if id.Valid {
			last := &out[len(out)-1]
			last.VerseIDs = append(last.VerseIDs, id.String)
		}
	}
	return out, rows.Err()
}

// KhatmPage returns the last page reached in the complete reading, or 0
// when none has been recorded.
func (s *Store) KhatmPage(ctx context.Context) (int, error) {
	var page int
	err := s.db.QueryRowContext(ctx, `SELECT page FROM khatm_progress WHERE id = 1`).Scan(&page)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("khatm page: %w", err)
	}
	return page, nil
}

// SetKhatmPage records page as the furthest page read.
func (s *Store) SetKhatmPage(ctx context.Context, page int) error {
	if err := verse.ValidatePage(page); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO khatm_progress (id, page, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET page = excluded.page, updated_at = excluded.updated_at`,
		page, time.Now().UnixMilli())
	if err != nil {
		return errors.NewIO("write", "khatm_progress", err)
	}
	return nil
}

// ResetKhatm clears khatm progress.
func (s *Store) ResetKhatm(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM khatm_progress`)
	return err
}
