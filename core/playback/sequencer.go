// Package playback sequences a playback queue through an audio transport,
// one verse at a time, inserting the preamble clip at chapter starts.
//
// A Sequencer owns a single goroutine. Every input (explicit requests and
// transport signals alike) is queued to that goroutine and handled in
// arrival order, so no two transitions ever run concurrently. Transport
// signals are treated as untrusted: a completion is acted on only if it
// names the clip most recently issued and that clip has not already been
// handled.
package playback

import (
	"context"
	"time"

	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/queue"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/logging"
)

// DefaultSettleDelay separates a completion from the next play command.
const DefaultSettleDelay = 100 * time.Millisecond

const inboxSize = 64

// Options configure a Sequencer. Resolver is required.
type Options struct {
	Resolver   AudioResolver
	Marker     ReadMarker
	Prefetcher Prefetcher

	// SettleDelay defaults to DefaultSettleDelay; negative means none.
	SettleDelay time.Duration
	// AfterFunc schedules f after d and returns a function that cancels it.
	// Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)

	// OnEvent runs on the sequencer goroutine and must not block.
	OnEvent func(Event)

	SessionID string
	Speed     Speed
}

// Snapshot is a consistent view of the sequencer.
type Snapshot struct {
	State       State  `json:"state"`
	Speed       Speed  `json:"speed"`
	QueueLength int    `json:"queue_length"`
	Location    string `json:"location,omitempty"`
	LastHandled string `json:"last_handled,omitempty"`
	Settling    bool   `json:"settling,omitempty"`
}

// clip is the most recent play command issued to the transport.
type clip struct {
	location string
	preamble bool
	position int
	handled  bool
}

// Sequencer plays a queue. Create one per reading session with New and
// release it with Close.
type Sequencer struct {
	transport Transport
	opts      Options
	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan func()
	stopped   chan struct{}

	// Owned by the loop goroutine.
	queue         *queue.Queue
	state         State
	current       *clip
	lastHandled   string
	pausedByUser  bool
	settlePending bool
	settleTarget  int
	settleGen     uint64
	settleStop    func() bool
	speed         Speed
	closed        bool
}

// New starts a sequencer for q in the Idle state. If t implements Binder it
// is bound to the new sequencer.
func New(q *queue.Queue, t Transport, opts Options) *Sequencer {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	} else if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if opts.Speed == 0 {
		opts.Speed = DefaultSpeed
	}

	ctx, cancel := context.WithCancel(logging.WithSessionID(context.Background(), opts.SessionID))
	s := &Sequencer{
		transport: t,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan func(), inboxSize),
		stopped:   make(chan struct{}),
		queue:     q,
		state:     State{Kind: Idle},
		speed:     opts.Speed,
	}
	if b, ok := t.(Binder); ok {
		b.Bind(s)
	}
	go s.loop()
	return s
}

func (s *Sequencer) loop() {
	defer close(s.stopped)
	for f := range s.inbox {
		f()
		if s.closed {
			return
		}
	}
}

// do runs f on the loop goroutine and waits for its result.
func (s *Sequencer) do(ctx context.Context, f func() error) error {
	done := make(chan error, 1)
	select {
	case s.inbox <- func() { done <- f() }:
	case <-s.stopped:
		return errors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-s.stopped:
		select {
		case err := <-done:
			return err
		default:
			return errors.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues f without waiting. It is dropped after Close.
func (s *Sequencer) post(f func()) {
	select {
	case s.inbox <- f:
	case <-s.stopped:
	}
}

// RequestPlay starts playback at queue position pos, first playing the
// preamble when the verse there requires one.
func (s *Sequencer) RequestPlay(ctx context.Context, pos int) error {
	return s.do(ctx, func() error {
		if _, ok := s.queue.At(pos); !ok {
			return errors.NewOutOfRange("queue position", pos, 0, s.queue.Len()-1)
		}
		s.cancelSettle()
		s.pausedByUser = false
		return s.start(pos, true)
	})
}

// Resume continues from the paused position, or from the start when idle.
// It does nothing while already playing.
func (s *Sequencer) Resume(ctx context.Context) error {
	return s.do(ctx, s.resume)
}

func (s *Sequencer) resume() error {
	switch s.state.Kind {
	case Paused:
		pos := s.state.Position
		s.cancelSettle()
		s.pausedByUser = false
		return s.start(pos, true)
	case Idle:
		if s.queue.Len() == 0 {
			return errors.NewValidation("queue", "nothing to play")
		}
		return s.start(0, true)
	default:
		return nil
	}
}

// RequestPause pauses playback, keeping the position for Resume.
func (s *Sequencer) RequestPause(ctx context.Context) error {
	return s.do(ctx, s.pause)
}

func (s *Sequencer) pause() error {
	pos, active := s.activePosition()
	if !active {
		if s.state.Kind == Paused {
			s.pausedByUser = true
		}
		return nil
	}
	s.cancelSettle()
	s.pausedByUser = true
	var err error
	if e := s.transport.Pause(s.ctx); e != nil {
		err = errors.NewTransport("pause", e)
		logging.PlaybackError(s.ctx, "pause", err)
	}
	s.setState(State{Kind: Paused, Position: pos})
	return err
}

// Toggle pauses when playing and resumes otherwise.
func (s *Sequencer) Toggle(ctx context.Context) error {
	return s.do(ctx, func() error {
		if _, active := s.activePosition(); active {
			return s.pause()
		}
		return s.resume()
	})
}

// SetSpeed changes the playback rate.
func (s *Sequencer) SetSpeed(ctx context.Context, sp Speed) error {
	if err := ValidateSpeed(sp); err != nil {
		return err
	}
	return s.do(ctx, func() error {
		if err := s.transport.SetSpeed(s.ctx, float64(sp)); err != nil {
			return errors.NewTransport("speed", err)
		}
		s.speed = sp
		return nil
	})
}

// OnTransportCompleted implements Listener.
func (s *Sequencer) OnTransportCompleted(location string) {
	s.post(func() { s.completed(location) })
}

// OnTransportPlayingChanged implements Listener.
func (s *Sequencer) OnTransportPlayingChanged(location string, playing bool) {
	s.post(func() { s.playingChanged(location, playing) })
}

// OnTransportFailed implements Listener.
func (s *Sequencer) OnTransportFailed(err error) {
	s.post(func() { s.failed(err) })
}

// State returns the current state, or Idle once closed.
func (s *Sequencer) State() State {
	snap, err := s.Snapshot(context.Background())
	if err != nil {
		return State{Kind: Idle}
	}
	return snap.State
}

// Snapshot returns the state together with speed and clip details.
func (s *Sequencer) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = Snapshot{
			State:       s.state,
			Speed:       s.speed,
			QueueLength: s.queue.Len(),
			LastHandled: s.lastHandled,
			Settling:    s.settlePending,
		}
		if s.current != nil {
			snap.Location = s.current.location
		}
		return nil
	})
	return snap, err
}

// Queue returns the queue being played, or nil once closed.
func (s *Sequencer) Queue() *queue.Queue {
	var q *queue.Queue
	_ = s.do(context.Background(), func() error {
		q = s.queue
		return nil
	})
	return q
}

// Close stops the transport, discards the queue and ends the sequencer.
// Pending transitions are cancelled. Closing twice is a no-op.
func (s *Sequencer) Close(ctx context.Context) error {
	err := s.do(ctx, func() error {
		s.cancelSettle()
		var stopErr error
		if e := s.transport.Stop(s.ctx); e != nil {
			stopErr = errors.NewTransport("stop", e)
		}
		s.current = nil
		s.setState(State{Kind: Idle})
		s.queue = nil
		s.closed = true
		s.cancel()
		return stopErr
	})
	if errors.Is(err, errors.ErrClosed) {
		return nil
	}
	return err
}

// Done is closed when the sequencer goroutine has exited.
func (s *Sequencer) Done() <-chan struct{} {
	return s.stopped
}

// start issues the play command for pos.
func (s *Sequencer) start(pos int, allowPreamble bool) error {
	entry, ok := s.queue.At(pos)
	if !ok {
		return errors.NewOutOfRange("queue position", pos, 0, s.queue.Len()-1)
	}
	a := entry.Verse.Address
	preamble := allowPreamble && verse.RequiresPreamble(a)

	var loc string
	var err error
	if preamble {
		loc, err = s.opts.Resolver.ResolvePreamble(s.ctx)
	} else {
		loc, err = s.opts.Resolver.Resolve(s.ctx, entry.Verse)
	}
	if err != nil {
		if !errors.Is(err, errors.ErrAudioResolution) {
			err = errors.NewAudioResolution(a.Chapter, a.Verse, err)
		}
		s.halt(pos, "resolve", err)
		return err
	}

	s.clearCompleted()
	if e := s.transport.Play(s.ctx, loc); e != nil {
		err = errors.NewTransport("play", e)
		s.halt(pos, "play", err)
		return err
	}

	s.current = &clip{location: loc, preamble: preamble, position: pos}
	kind := PlayingVerse
	if preamble {
		kind = PlayingPreamble
	}
	s.setState(State{Kind: kind, Position: pos})
	s.prefetchAfter(pos, preamble)
	return nil
}

// halt parks the sequencer at pos after a failure.
func (s *Sequencer) halt(pos int, op string, err error) {
	if s.state.Playing() {
		if e := s.transport.Stop(s.ctx); e != nil {
			logging.PlaybackError(s.ctx, "stop", e)
		}
	}
	s.current = nil
	s.pausedByUser = false
	logging.PlaybackError(s.ctx, op, err, "position", pos)
	s.setState(State{Kind: Paused, Position: pos})
	s.emit(Event{Kind: EventError, State: s.state, Err: err})
}

func (s *Sequencer) completed(location string) {
	c := s.current
	if c == nil || c.handled || location != c.location {
		logging.DebugContext(s.ctx, "ignoring completion", "location", location, "last_handled", s.lastHandled)
		return
	}
	if !s.state.Playing() && !(s.state.Kind == Paused && !s.pausedByUser) {
		return
	}
	c.handled = true
	s.lastHandled = location
	s.clearCompleted()

	if c.preamble {
		s.schedule(c.position, false)
		return
	}

	entry, _ := s.queue.At(c.position)
	s.markRead(entry)

	if _, ok := s.queue.Next(c.position); ok {
		s.schedule(c.position+1, true)
		return
	}
	if err := s.transport.Stop(s.ctx); err != nil {
		logging.PlaybackError(s.ctx, "stop", err)
	}
	s.current = nil
	s.setState(State{Kind: Idle})
}

func (s *Sequencer) playingChanged(location string, playing bool) {
	c := s.current
	if c == nil || c.handled || s.settlePending {
		return
	}
	if location != "" && location != c.location {
		logging.DebugContext(s.ctx, "ignoring playing change for another clip",
			"location", location, "current", c.location, "playing", playing)
		return
	}
	switch {
	case !playing && s.state.Playing():
		s.pausedByUser = false
		s.setState(State{Kind: Paused, Position: s.state.Position})
	case playing && s.state.Kind == Paused && !s.pausedByUser:
		kind := PlayingVerse
		if c.preamble {
			kind = PlayingPreamble
		}
		s.setState(State{Kind: kind, Position: c.position})
	}
}

func (s *Sequencer) failed(err error) {
	pos, active := s.activePosition()
	if !active {
		if s.state.Kind != Paused {
			return
		}
		pos = s.state.Position
	}
	s.cancelSettle()
	s.current = nil
	terr := errors.NewTransport("playback", err)
	logging.PlaybackError(s.ctx, "playback", terr, "position", pos)
	s.setState(State{Kind: Paused, Position: pos})
	s.emit(Event{Kind: EventError, State: s.state, Err: terr})
}

// activePosition returns the position playback is at or about to move to.
func (s *Sequencer) activePosition() (int, bool) {
	if s.settlePending {
		return s.settleTarget, true
	}
	if s.state.Playing() {
		return s.state.Position, true
	}
	return 0, false
}

func (s *Sequencer) schedule(target int, allowPreamble bool) {
	s.settleGen++
	gen := s.settleGen
	s.settlePending = true
	s.settleTarget = target
	s.settleStop = s.opts.AfterFunc(s.opts.SettleDelay, func() {
		s.post(func() {
			if !s.settlePending || gen != s.settleGen {
				return
			}
			s.settlePending = false
			s.settleStop = nil
			_ = s.start(target, allowPreamble)
		})
	})
}

func (s *Sequencer) cancelSettle() {
	if !s.settlePending {
		return
	}
	if s.settleStop != nil {
		s.settleStop()
	}
	s.settlePending = false
	s.settleStop = nil
	s.settleGen++
}

func (s *Sequencer) clearCompleted() {
	if cc, ok := s.transport.(CompletionClearer); ok {
		cc.ClearCompleted()
	}
}

func (s *Sequencer) markRead(entry queue.Entry) {
	if s.opts.Marker == nil {
		return
	}
	added, err := s.opts.Marker.MarkReadIfAbsent(s.ctx, entry.ReadID())
	if err != nil {
		logging.PlaybackError(s.ctx, "mark_read", err, "verse_id", entry.ReadID())
		s.emit(Event{Kind: EventError, State: s.state, Entry: &entry, Err: err})
		return
	}
	s.emit(Event{Kind: EventVerseRead, State: s.state, Entry: &entry, Added: added})
}

func (s *Sequencer) prefetchAfter(pos int, preamble bool) {
	p := s.opts.Prefetcher
	if p == nil {
		return
	}
	ctx := s.ctx
	if preamble {
		entry, _ := s.queue.At(pos)
		go p.PrefetchVerse(ctx, entry.Verse)
		return
	}
	if next, ok := s.queue.Next(pos); ok {
		v := next.Verse
		needPreamble := verse.RequiresPreamble(v.Address)
		go func() {
			if needPreamble {
				p.PrefetchPreamble(ctx)
			}
			p.PrefetchVerse(ctx, v)
		}()
		return
	}
	if qc := s.queue.Context(); qc.Kind == queue.PageReading && qc.Page < verse.PageCount {
		page := qc.Page + 1
		go p.PrefetchPage(ctx, page)
	}
}

func (s *Sequencer) setState(st State) {
	if st == s.state {
		return
	}
	prev := s.state
	s.state = st
	logging.PlaybackTransition(s.ctx, prev.String(), st.String(), st.Position)
	s.emit(Event{Kind: EventStateChanged, State: st})
}

func (s *Sequencer) emit(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

var _ Listener = (*Sequencer)(nil)
