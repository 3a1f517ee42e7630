package playback

import (
	"context"

	"github.com/FocuswithJustin/tilawa/core/content"
)

// Transport plays one clip at a time. It runs independently of the
// sequencer and reports back through a Listener.
type Transport interface {
	Play(ctx context.Context, location string) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	SetSpeed(ctx context.Context, multiplier float64) error
}

// Listener receives transport signals. Signals may be stale or repeated.
// A playing change names the clip it concerns; an empty location means
// whichever clip is current.
type Listener interface {
	OnTransportCompleted(location string)
	OnTransportPlayingChanged(location string, playing bool)
	OnTransportFailed(err error)
}

// Binder is implemented by transports that push signals to a Listener.
type Binder interface {
	Bind(l Listener)
}

// CompletionClearer is implemented by transports whose completion is a
// sticky flag that must be reset before the next clip.
type CompletionClearer interface {
	ClearCompleted()
}

// AudioResolver turns verses into playable locations.
type AudioResolver interface {
	Resolve(ctx context.Context, v content.Verse) (string, error)
	ResolvePreamble(ctx context.Context) (string, error)
}

// ReadMarker records verses heard to the end.
type ReadMarker interface {
	MarkReadIfAbsent(ctx context.Context, verseID string) (bool, error)
}

// Prefetcher warms a local audio cache ahead of playback. Calls run on
// their own goroutine and must not block the caller for long.
type Prefetcher interface {
	PrefetchVerse(ctx context.Context, v content.Verse)
	PrefetchPreamble(ctx context.Context)
	// PrefetchPage fetches the first verse of page.
	PrefetchPage(ctx context.Context, page int)
}
