// Package player drives an external command-line audio player, one process
// per clip, as a playback transport.
package player

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/internal/logging"
)

// killGrace is how long a killed player may take to close its pipes.
const killGrace = 2 * time.Second

// Option configures a Player.
type Option func(*Player)

// WithSpeedFlag sets the argument used to pass the rate, with %s replaced
// by the multiplier. An empty flag drops the rate.
func WithSpeedFlag(flag string) Option {
	return func(p *Player) { p.speedFlag = flag }
}

// Player runs command with the clip location appended as the last argument.
// A clean exit is a completion; a non-zero exit is a failure. Pause and Stop
// kill the process, so a paused clip restarts from the beginning.
type Player struct {
	command   []string
	speedFlag string

	mu        sync.Mutex
	listener  playback.Listener
	gen       uint64
	cancel    context.CancelFunc
	location  string
	speed     float64
	completed bool
}

// New returns a Player for command. mpv gets a --speed flag by default.
func New(command []string, opts ...Option) (*Player, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.NewValidation("player command", "must not be empty")
	}
	p := &Player{command: append([]string(nil), command...), speed: 1}
	if filepath.Base(command[0]) == "mpv" {
		p.speedFlag = "--speed=%s"
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Bind implements playback.Binder.
func (p *Player) Bind(l playback.Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// ClearCompleted implements playback.CompletionClearer.
func (p *Player) ClearCompleted() {
	p.mu.Lock()
	p.completed = false
	p.mu.Unlock()
}

// Completed reports whether the last clip ran to its end.
func (p *Player) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Args returns the argv used to play location at the current speed.
func (p *Player) Args(location string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.args(location)
}

func (p *Player) args(location string) []string {
	args := append([]string(nil), p.command[1:]...)
	if p.speedFlag != "" && p.speed != 1 {
		args = append(args, fmt.Sprintf(p.speedFlag, strconv.FormatFloat(p.speed, 'g', -1, 64)))
	}
	return append(args, location)
}

// Play stops any running clip and starts location. Signals for the new clip
// arrive on the bound listener.
func (p *Player) Play(ctx context.Context, location string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.killLocked()
	p.gen++
	gen := p.gen

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, p.command[0], p.args(location)...)
	cmd.WaitDelay = killGrace
	if err := cmd.Start(); err != nil {
		cancel()
		return errors.NewTransport("start", err)
	}
	p.cancel = cancel
	p.location = location
	logging.DebugContext(ctx, "player started", "location", location, "pid", cmd.Process.Pid)

	go p.wait(ctx, cmd, gen, location)
	return nil
}

func (p *Player) wait(ctx context.Context, cmd *exec.Cmd, gen uint64, location string) {
	p.notify(gen, func(l playback.Listener) { l.OnTransportPlayingChanged(location, true) })
	err := cmd.Wait()

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.cancel = nil
	if err == nil {
		p.completed = true
	}
	l := p.listener
	p.mu.Unlock()

	if l == nil {
		return
	}
	if err != nil {
		logging.WarnContext(ctx, "player exited", "location", location, "error", err)
		l.OnTransportFailed(errors.NewTransport("play", err))
		return
	}
	l.OnTransportCompleted(location)
	l.OnTransportPlayingChanged(location, false)
}

// notify calls f with the listener if gen is still the current clip.
func (p *Player) notify(gen uint64, f func(playback.Listener)) {
	p.mu.Lock()
	l := p.listener
	current := gen == p.gen
	p.mu.Unlock()
	if l != nil && current {
		f(l)
	}
}

// Pause kills the running clip without reporting completion.
func (p *Player) Pause(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
	return nil
}

// Stop kills the running clip and forgets its location.
func (p *Player) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
	p.location = ""
	return nil
}

// SetSpeed applies to the next clip started.
func (p *Player) SetSpeed(_ context.Context, multiplier float64) error {
	if multiplier <= 0 {
		return errors.NewValidation("speed", "must be positive")
	}
	p.mu.Lock()
	p.speed = multiplier
	p.mu.Unlock()
	return nil
}

// Location returns the clip most recently started, if not stopped.
func (p *Player) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

func (p *Player) killLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

var (
	_ playback.Transport         = (*Player)(nil)
	_ playback.Binder            = (*Player)(nil)
	_ playback.CompletionClearer = (*Player)(nil)
)
