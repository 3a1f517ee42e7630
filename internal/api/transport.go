package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/internal/logging"
)

// TransportCommand is sent to the remote player.
type TransportCommand struct {
	Type     string  `json:"type"` // play, pause, stop, speed
	Location string  `json:"location,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// TransportSignal is received from the remote player.
type TransportSignal struct {
	Type     string `json:"type"` // completed, playing, error
	Location string `json:"location,omitempty"`
	Playing  bool   `json:"playing,omitempty"`
	Message  string `json:"message,omitempty"`
}

// errNoPeer is returned by Play while no player is connected.
var errNoPeer = errors.New("no remote player connected")

// RemoteTransport is a playback transport whose player is a WebSocket
// client on /ws/sessions/{id}/transport. At most one player is attached;
// a new connection replaces the old one.
type RemoteTransport struct {
	mu       sync.Mutex
	listener playback.Listener
	peer     *Client
	speed    float64
}

// NewRemoteTransport returns a transport with no player attached.
func NewRemoteTransport() *RemoteTransport {
	return &RemoteTransport{speed: 1}
}

// Bind implements playback.Binder.
func (t *RemoteTransport) Bind(l playback.Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// Connected reports whether a player is attached.
func (t *RemoteTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer != nil
}

// Play implements playback.Transport.
func (t *RemoteTransport) Play(_ context.Context, location string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer == nil {
		return errNoPeer
	}
	return t.sendLocked(TransportCommand{Type: "play", Location: location, Speed: t.speed})
}

// Pause implements playback.Transport. Without a player there is nothing
// to pause.
func (t *RemoteTransport) Pause(context.Context) error {
	return t.command(TransportCommand{Type: "pause"})
}

// Stop implements playback.Transport.
func (t *RemoteTransport) Stop(context.Context) error {
	return t.command(TransportCommand{Type: "stop"})
}

// SetSpeed implements playback.Transport. The rate is remembered and sent
// to players that connect later.
func (t *RemoteTransport) SetSpeed(_ context.Context, multiplier float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speed = multiplier
	if t.peer == nil {
		return nil
	}
	return t.sendLocked(TransportCommand{Type: "speed", Speed: multiplier})
}

func (t *RemoteTransport) command(cmd TransportCommand) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer == nil {
		return nil
	}
	return t.sendLocked(cmd)
}

func (t *RemoteTransport) sendLocked(cmd TransportCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if !t.peer.trySend(data) {
		return errors.New("remote player is not keeping up")
	}
	return nil
}

// attach makes c the player, disconnecting any previous one, and sends it
// the current rate.
func (t *RemoteTransport) attach(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer != nil {
		t.peer.closeSend()
	}
	t.peer = c
	if t.speed != 1 {
		_ = t.sendLocked(TransportCommand{Type: "speed", Speed: t.speed})
	}
}

// detach forgets c if it is still the player. Losing the player is
// reported as playback stopping.
func (t *RemoteTransport) detach(c *Client) {
	t.mu.Lock()
	if t.peer != c {
		t.mu.Unlock()
		return
	}
	t.peer = nil
	c.closeSend()
	l := t.listener
	t.mu.Unlock()
	if l != nil {
		l.OnTransportPlayingChanged("", false)
	}
}

// Close disconnects the player without signalling the listener.
func (t *RemoteTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer != nil {
		t.peer.closeSend()
		t.peer = nil
	}
}

// handleSignal decodes a message from c and forwards it to the listener.
// Messages from a replaced player are ignored.
func (t *RemoteTransport) handleSignal(c *Client, data []byte) {
	var sig TransportSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		logging.Warn("invalid transport signal", "error", err)
		return
	}

	t.mu.Lock()
	l := t.listener
	current := t.peer == c
	t.mu.Unlock()
	if l == nil || !current {
		return
	}

	switch sig.Type {
	case "completed":
		l.OnTransportCompleted(sig.Location)
	case "playing":
		l.OnTransportPlayingChanged(sig.Location, sig.Playing)
	case "error":
		l.OnTransportFailed(fmt.Errorf("remote player: %s", sig.Message))
	default:
		logging.Warn("unknown transport signal", "type", sig.Type)
	}
}

var (
	_ playback.Transport = (*RemoteTransport)(nil)
	_ playback.Binder    = (*RemoteTransport)(nil)
)
