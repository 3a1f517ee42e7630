package playback

import (
	"fmt"
	"strconv"

	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/queue"
)

// StateKind names a sequencer state.
type StateKind string

const (
	Idle            StateKind = "idle"
	PlayingPreamble StateKind = "playing_preamble"
	PlayingVerse    StateKind = "playing_verse"
	Paused          StateKind = "paused"
)

// State is the sequencer state. Position is the queue position being played
// or paused at; for PlayingPreamble it is the verse that follows the
// preamble. It is meaningless when Kind is Idle.
type State struct {
	Kind     StateKind `json:"kind"`
	Position int       `json:"position"`
}

func (s State) String() string {
	if s.Kind == Idle {
		return string(Idle)
	}
	return fmt.Sprintf("%s(%d)", s.Kind, s.Position)
}

// Playing reports whether a clip is expected to be audible.
func (s State) Playing() bool {
	return s.Kind == PlayingPreamble || s.Kind == PlayingVerse
}

// EventKind classifies sequencer events.
type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventVerseRead    EventKind = "verse_read"
	EventError        EventKind = "error"
)

// Event is delivered to Options.OnEvent on the sequencer goroutine.
type Event struct {
	Kind  EventKind    `json:"kind"`
	State State        `json:"state"`
	Entry *queue.Entry `json:"entry,omitempty"`
	// Added is set on EventVerseRead when the verse was not yet read today.
	Added bool  `json:"added,omitempty"`
	Err   error `json:"-"`
}

// Speed is a playback rate multiplier.
type Speed float64

// Speeds lists the supported multipliers in ascending order.
var Speeds = []Speed{0.5, 0.75, 1, 1.25, 1.5, 2}

// DefaultSpeed is normal rate.
const DefaultSpeed Speed = 1

// ValidateSpeed rejects multipliers that are not in Speeds.
func ValidateSpeed(s Speed) error {
	for _, v := range Speeds {
		if v == s {
			return nil
		}
	}
	return errors.NewValidation("speed", fmt.Sprintf("unsupported multiplier %v", float64(s)))
}

// ParseSpeed parses "1.25", "1.25x" and similar.
func ParseSpeed(s string) (Speed, error) {
	if n := len(s); n > 0 && (s[n-1] == 'x' || s[n-1] == 'X') {
		s = s[:n-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.NewParse("speed", s, "not a number")
	}
	sp := Speed(f)
	return sp, ValidateSpeed(sp)
}

func (s Speed) String() string {
	return strconv.FormatFloat(float64(s), 'g', -1, 64) + "x"
}
