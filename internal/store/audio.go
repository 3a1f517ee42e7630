package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FocuswithJustin/tilawa/core/cas"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// AudioKey identifies one cached recitation clip.
type AudioKey struct {
	Reciter string
	Bitrate string
	Address verse.Address
}

func (k AudioKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Reciter, k.Bitrate, k.Address)
}

// AudioEntry is a row of the audio cache index.
type AudioEntry struct {
	Key       AudioKey
	Digest    cas.Digest
	FetchedAt time.Time
}

// AudioStats summarises the audio cache index.
type AudioStats struct {
	Clips    int   `json:"clips"`
	Bytes    int64 `json:"bytes"`
	Reciters int   `json:"reciters"`
}

// PutAudio records that key is stored as d.
func (s *Store) PutAudio(ctx context.Context, key AudioKey, d cas.Digest) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audio_cache (reciter, bitrate, chapter, verse, sha256, blake3, size, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(reciter, bitrate, chapter, verse) DO UPDATE SET
    sha256 = excluded.sha256, blake3 = excluded.blake3,
    size = excluded.size, fetched_at = excluded.fetched_at`,
		key.Reciter, key.Bitrate, key.Address.Chapter, key.Address.Verse,
		d.SHA256, d.BLAKE3, d.Size, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("index audio %s: %w", key, err)
	}
	return nil
}

// LookupAudio returns the digest stored for key.
func (s *Store) LookupAudio(ctx context.Context, key AudioKey) (cas.Digest, bool, error) {
	var d cas.Digest
	err := s.db.QueryRowContext(ctx, `
SELECT sha256, blake3, size FROM audio_cache
WHERE reciter = ? AND bitrate = ? AND chapter = ? AND verse = ?`,
		key.Reciter, key.Bitrate, key.Address.Chapter, key.Address.Verse).Scan(&d.SHA256, &d.BLAKE3, &d.Size)
	if err == sql.ErrNoRows {
		return cas.Digest{}, false, nil
	}
	if err != nil {
		return cas.Digest{}, false, fmt.Errorf("lookup audio %s: %w", key, err)
	}
	return d, true, nil
}

// DeleteAudio drops key from the index. It reports whether any other key
// still references the same blob.
func (s *Store) DeleteAudio(ctx context.Context, key AudioKey, sha string) (shared bool, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM audio_cache WHERE reciter = ? AND bitrate = ? AND chapter = ? AND verse = ?`,
			key.Reciter, key.Bitrate, key.Address.Chapter, key.Address.Verse); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM audio_cache WHERE sha256 = ?`, sha).Scan(&n); err != nil {
			return err
		}
		shared = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete audio %s: %w", key, err)
	}
	return shared, nil
}

// AudioEntries lists indexed clips for a reciter and bitrate, or all when
// reciter is empty.
func (s *Store) AudioEntries(ctx context.Context, reciter, bitrate string) ([]AudioEntry, error) {
	q := `SELECT reciter, bitrate, chapter, verse, sha256, blake3, size, fetched_at FROM audio_cache`
	var args []any
	if reciter != "" {
		q += ` WHERE reciter = ? AND bitrate = ?`
		args = append(args, reciter, bitrate)
	}
	q += ` ORDER BY reciter, bitrate, chapter, verse`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audio: %w", err)
	}
	defer rows.Close()
	var out []AudioEntry
	for rows.Next() {
		var (
			e       AudioEntry
			fetched int64
		)
		if err := rows.Scan(&e.Key.Reciter, &e.Key.Bitrate, &e.Key.Address.Chapter, &e.Key.Address.Verse,
			&e.Digest.SHA256, &e.Digest.BLAKE3, &e.Digest.Size, &fetched); err != nil {
			return nil, err
		}
		e.FetchedAt = time.UnixMilli(fetched).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// AudioStats counts indexed clips and their distinct bytes.
func (s *Store) AudioStats(ctx context.Context) (AudioStats, error) {
	var st AudioStats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE((SELECT SUM(size) FROM (SELECT DISTINCT sha256, size FROM audio_cache)), 0),
       COUNT(DISTINCT reciter)
FROM audio_cache`).Scan(&st.Clips, &st.Bytes, &st.Reciters)
	if err != nil {
		return AudioStats{}, fmt.Errorf("audio stats: %w", err)
	}
	return st, nil
}
