package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// ImportVerses upserts the offline corpus in one transaction.
func (s *Store) ImportVerses(ctx context.Context, vs []content.Verse) (int, error) {
	n := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO verses (global, chapter, verse, text, page, hizb_quarter, prostration)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(global) DO UPDATE SET
    text = excluded.text, page = excluded.page,
    hizb_quarter = excluded.hizb_quarter, prostration = excluded.prostration`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, v := range vs {
			g, err := verse.ToGlobalIndex(v.Address)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, int(g), v.Address.Chapter, v.Address.Verse,
				v.Text, v.Page, v.HizbQuarter, v.Prostration); err != nil {
				return fmt.Errorf("import %s: %w", v.Address, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// VerseCount returns how many verses are stored.
func (s *Store) VerseCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verses`).Scan(&n)
	return n, err
}

const verseColumns = `global, chapter, verse, text, page, hizb_quarter, prostration`

func scanVerses(rows *sql.Rows) ([]content.Verse, error) {
	defer rows.Close()
	var out []content.Verse
	for rows.Next() {
		var v content.Verse
		if err := rows.Scan(&v.Global, &v.Address.Chapter, &v.Address.Verse,
			&v.Text, &v.Page, &v.HizbQuarter, &v.Prostration); err != nil {
			return nil, err
		}
		v.RemoteAudioResolvable = true
		out = append(out, v)
	}
	return out, rows.Err()
}

// Verses is the offline content.Provider backed by the verses table.
type Verses struct {
	s *Store
}

// Verses returns the offline provider.
func (s *Store) Verses() *Verses {
	return &Verses{s: s}
}

// VersesForBookmark implements content.Provider.
func (p *Verses) VersesForBookmark(ctx context.Context, b content.Bookmark) ([]content.Verse, error) {
	if b.Kind == content.KindPage {
		return p.VersesOnPage(ctx, b.Page)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	from := verse.MustGlobalIndex(b.Start)
	to := verse.MustGlobalIndex(b.End)
	rows, err := p.s.db.QueryContext(ctx,
		`SELECT `+verseColumns+` FROM verses WHERE global BETWEEN ? AND ? ORDER BY global`, int(from), int(to))
	if err != nil {
		return nil, errors.NewContentFetch("sqlite", err)
	}
	vs, err := scanVerses(rows)
	if err != nil {
		return nil, errors.NewContentFetch("sqlite", err)
	}
	if want := int(to-from) + 1; len(vs) != want {
		return nil, errors.NewContentFetch("sqlite",
			errors.NewNotFound("verses", fmt.Sprintf("%s (have %d of %d)", b.DisplayText(), len(vs), want)))
	}
	return vs, nil
}

// VersesOnPage implements content.Provider.
func (p *Verses) VersesOnPage(ctx context.Context, page int) ([]content.Verse, error) {
	if err := verse.ValidatePage(page); err != nil {
		return nil, err
	}
	rows, err := p.s.db.QueryContext(ctx,
		`SELECT `+verseColumns+` FROM verses WHERE page = ? ORDER BY global`, page)
	if err != nil {
		return nil, errors.NewContentFetch("sqlite", err)
	}
	vs, err := scanVerses(rows)
	if err != nil {
		return nil, errors.NewContentFetch("sqlite", err)
	}
	if len(vs) == 0 {
		return nil, errors.NewContentFetch("sqlite", errors.NewNotFound("page", strconv.Itoa(page)))
	}
	return vs, nil
}

var _ content.Provider = (*Verses)(nil)
