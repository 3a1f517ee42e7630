// Package content defines the verse, bookmark and collection model shared by
// the queue builder, the sequencer and the storage and network collaborators.
package content

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// NoBookmark tags queue entries that are not owned by any bookmark, such as
// the verses of a page reading.
const NoBookmark = "-1"

// Verse is one unit of content as returned by a Provider. It is not
// modified after it has been fetched.
type Verse struct {
	Address     verse.Address     `json:"address"`
	Global      verse.GlobalIndex `json:"global"`
	Text        string            `json:"text,omitempty"`
	Page        int               `json:"page"`
	HizbQuarter int               `json:"hizb_quarter"`
	Prostration bool              `json:"prostration,omitempty"`

	// CachedAudioLocation is a local file path when the clip is cached.
	CachedAudioLocation string `json:"cached_audio,omitempty"`
	// RemoteAudioResolvable is false for verses whose audio must come from cache.
	RemoteAudioResolvable bool `json:"remote_audio"`
}

// Part returns the 1..30 part derived from the verse's hizb quarter.
func (v Verse) Part() int {
	return verse.PartNumber(v.HizbQuarter)
}

// Provider fetches verse content.
type Provider interface {
	// VersesForBookmark returns the bookmark's verses in reading order.
	VersesForBookmark(ctx context.Context, b Bookmark) ([]Verse, error)
	// VersesOnPage returns every verse printed on page, in reading order.
	VersesOnPage(ctx context.Context, page int) ([]Verse, error)
}

// AudioSource locates recitation clips.
type AudioSource interface {
	ResolveAudioLocation(ctx context.Context, reciter string, g verse.GlobalIndex, bitrate string) (string, error)
	// CachedAudioLocation returns a local copy of the clip, if one exists.
	CachedAudioLocation(ctx context.Context, reciter, bitrate string, a verse.Address) (string, bool)
}

// VerseID builds the read-tracking identifier "owner:chapter:verse".
func VerseID(owner string, a verse.Address) string {
	if owner == "" {
		owner = NoBookmark
	}
	return fmt.Sprintf("%s:%d:%d", owner, a.Chapter, a.Verse)
}

// ParseVerseID splits an identifier built by VerseID.
func ParseVerseID(id string) (string, verse.Address, error) {
	vi := strings.LastIndex(id, ":")
	if vi <= 0 {
		return "", verse.Address{}, errors.NewParse("verse id", id, "expected owner:chapter:verse")
	}
	ci := strings.LastIndex(id[:vi], ":")
	if ci <= 0 {
		return "", verse.Address{}, errors.NewParse("verse id", id, "expected owner:chapter:verse")
	}
	ch, err1 := strconv.Atoi(id[ci+1 : vi])
	v, err2 := strconv.Atoi(id[vi+1:])
	if err1 != nil || err2 != nil {
		return "", verse.Address{}, errors.NewParse("verse id", id, "chapter and verse must be numbers")
	}
	a := verse.Address{Chapter: ch, Verse: v}
	if err := a.Validate(); err != nil {
		return "", verse.Address{}, err
	}
	return id[:ci], a, nil
}

// Collection is an ordered group of bookmarks sharing a reciter.
type Collection struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Reciter     string     `json:"reciter,omitempty"`
	Bookmarks   []Bookmark `json:"bookmarks,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
