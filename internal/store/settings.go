package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/FocuswithJustin/tilawa/core/playback"
)

// Setting keys.
const (
	SettingReciter = "reciter"
	SettingBitrate = "bitrate"
	SettingSpeed   = "speed"
)

// Preferences are the playback settings a user can change at runtime.
type Preferences struct {
	Reciter string         `json:"reciter"`
	Bitrate string         `json:"bitrate"`
	Speed   playback.Speed `json:"speed"`
}

// Setting returns a stored value and whether it was set.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

// SetSetting stores a value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Preferences overlays stored settings on defaults. An unparsable stored
// speed falls back to the default.
func (s *Store) Preferences(ctx context.Context, defaults Preferences) (Preferences, error) {
	p := defaults
	if v, ok, err := s.Setting(ctx, SettingReciter); err != nil {
		return Preferences{}, err
	} else if ok {
		p.Reciter = v
	}
	if v, ok, err := s.Setting(ctx, SettingBitrate); err != nil {
		return Preferences{}, err
	} else if ok {
		p.Bitrate = v
	}
	if v, ok, err := s.Setting(ctx, SettingSpeed); err != nil {
		return Preferences{}, err
	} else if ok {
		if sp, err := playback.ParseSpeed(v); err == nil {
			p.Speed = sp
		}
	}
	return p, nil
}

// SaveSpeed validates and stores the playback speed.
func (s *Store) SaveSpeed(ctx context.Context, sp playback.Speed) error {
	if err := playback.ValidateSpeed(sp); err != nil {
		return err
	}
	return s.SetSetting(ctx, SettingSpeed, sp.String())
}
