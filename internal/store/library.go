package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// CreateCollection inserts c, assigning an ID and creation time when unset.
func (s *Store) CreateCollection(ctx context.Context, c content.Collection) (content.Collection, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return content.Collection{}, errors.NewValidation("name", "collection name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, description, reciter, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.Reciter, c.CreatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return content.Collection{}, errors.NewValidation("name", fmt.Sprintf("collection %q already exists", c.Name))
		}
		return content.Collection{}, fmt.Errorf("create collection: %w", err)
	}
	c.Bookmarks = nil
	return c, nil
}

// Collection loads a collection and its bookmarks in position order. The
// key may be an ID or a name.
func (s *Store) Collection(ctx context.Context, key string) (content.Collection, error) {
	var (
		c       content.Collection
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, reciter, created_at FROM collections WHERE id = ? OR name = ?`,
		key, key).Scan(&c.ID, &c.Name, &c.Description, &c.Reciter, &created)
	if err == sql.ErrNoRows {
		return content.Collection{}, errors.NewNotFound("collection", key)
	}
	if err != nil {
		return content.Collection{}, fmt.Errorf("get collection %s: %w", key, err)
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.Bookmarks, err = s.Bookmarks(ctx, c.ID)
	if err != nil {
		return content.Collection{}, err
	}
	return c, nil
}

// Collections lists collections without their bookmarks, oldest first.
func (s *Store) Collections(ctx context.Context) ([]content.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, reciter, created_at FROM collections ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()
	var out []content.Collection
	for rows.Next() {
		var (
			c       content.Collection
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Reciter, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection removes a collection and, by cascade, its bookmarks.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", id, err)
	}
	return expectOne(res, "collection", id)
}

// AddBookmark appends b to its collection.
func (s *Store) AddBookmark(ctx context.Context, b content.Bookmark) (content.Bookmark, error) {
	if err := b.Validate(); err != nil {
		return content.Bookmark{}, err
	}
	if b.CollectionID == "" {
		return content.Bookmark{}, errors.NewValidation("collection_id", "bookmark must belong to a collection")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE id = ?`, b.CollectionID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return errors.NewNotFound("collection", b.CollectionID)
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO bookmarks (id, collection_id, kind, start_chapter, start_verse, end_chapter, end_verse, page, note, position, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
        (SELECT COALESCE(MAX(position), -1) + 1 FROM bookmarks WHERE collection_id = ?), ?)`,
			b.ID, b.CollectionID, string(b.Kind),
			b.Start.Chapter, b.Start.Verse, b.End.Chapter, b.End.Verse, b.Page, b.Note,
			b.CollectionID, b.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return content.Bookmark{}, fmt.Errorf("add bookmark: %w", err)
	}
	return b, nil
}

// Bookmark loads one bookmark.
func (s *Store) Bookmark(ctx context.Context, id string) (content.Bookmark, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = ?`, id)
	b, err := scanBookmark(row)
	if err == sql.ErrNoRows {
		return content.Bookmark{}, errors.NewNotFound("bookmark", id)
	}
	return b, err
}

// Bookmarks lists a collection's bookmarks in position order.
func (s *Store) Bookmarks(ctx context.Context, collectionID string) ([]content.Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks WHERE collection_id = ? ORDER BY position`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()
	var out []content.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBookmark removes one bookmark.
func (s *Store) DeleteBookmark(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bookmark %s: %w", id, err)
	}
	return expectOne(res, "bookmark", id)
}

const bookmarkColumns = `id, collection_id, kind, start_chapter, start_verse, end_chapter, end_verse, page, note, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row scanner) (content.Bookmark, error) {
	var (
		b       content.Bookmark
		kind    string
		created int64
	)
	err := row.Scan(&b.ID, &b.CollectionID, &kind,
		&b.Start.Chapter, &b.Start.Verse, &b.End.Chapter, &b.End.Verse,
		&b.Page, &b.Note, &created)
	if err != nil {
		return content.Bookmark{}, err
	}
	b.Kind = content.Kind(kind)
	b.CreatedAt = time.UnixMilli(created).UTC()
	if b.Kind == content.KindPage {
		b.Start, b.End = verse.Address{}, verse.Address{}
	}
	return b, nil
}

func expectOne(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFound(resource, id)
	}
	return nil
}
