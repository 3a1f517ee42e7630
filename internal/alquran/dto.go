package alquran

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// sajda is false for ordinary verses and an object
// {id, recommended, obligatory} for prostration verses.
type sajda bool

func (s *sajda) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")), bytes.Equal(b, []byte("false")):
		*s = false
	case bytes.Equal(b, []byte("true")):
		*s = true
	case len(b) > 0 && b[0] == '{':
		*s = true
	default:
		return fmt.Errorf("unexpected sajda value %s", b)
	}
	return nil
}

type surahRef struct {
	Number int `json:"number"`
}

type ayahDTO struct {
	Number        int       `json:"number"`
	Text          string    `json:"text"`
	NumberInSurah int       `json:"numberInSurah"`
	Juz           int       `json:"juz"`
	Page          int       `json:"page"`
	HizbQuarter   int       `json:"hizbQuarter"`
	Sajda         sajda     `json:"sajda"`
	Surah         *surahRef `json:"surah,omitempty"`
}

type surahDTO struct {
	Number        int       `json:"number"`
	Name          string    `json:"name"`
	EnglishName   string    `json:"englishName"`
	NumberOfAyahs int       `json:"numberOfAyahs"`
	Ayahs         []ayahDTO `json:"ayahs"`
}

type pageDTO struct {
	Number int       `json:"number"`
	Ayahs  []ayahDTO `json:"ayahs"`
}

// Reciter is an audio edition.
type Reciter struct {
	Identifier  string `json:"identifier"`
	Language    string `json:"language"`
	Name        string `json:"name"`
	EnglishName string `json:"englishName"`
	Format      string `json:"format"`
	Type        string `json:"type"`
	Direction   string `json:"direction,omitempty"`
}

// toVerse converts an API verse. chapter is used when the payload omits
// the surah reference, as chapter responses do.
func (a ayahDTO) toVerse(chapter int) (content.Verse, error) {
	if a.Surah != nil && a.Surah.Number != 0 {
		chapter = a.Surah.Number
	}
	addr := verse.Address{Chapter: chapter, Verse: a.NumberInSurah}
	g, err := verse.ToGlobalIndex(addr)
	if err != nil {
		return content.Verse{}, err
	}
	if a.Number != 0 && verse.GlobalIndex(a.Number) != g {
		return content.Verse{}, errors.NewParse("alquran", addr.String(),
			fmt.Sprintf("global number %d does not match address (want %d)", a.Number, g))
	}
	return content.Verse{
		Address:               addr,
		Global:                g,
		Text:                  a.Text,
		Page:                  a.Page,
		HizbQuarter:           a.HizbQuarter,
		Prostration:           bool(a.Sajda) || verse.IsProstration(addr),
		RemoteAudioResolvable: true,
	}, nil
}

var _ json.Unmarshaler = (*sajda)(nil)
