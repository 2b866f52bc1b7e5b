// Package presence keeps a long-lived signaling connection open so an
// incoming call can be surfaced at any time, independent of any active call.
//
// The listener's connection is separate from any call session's connection
// even though both register under the same user id: a call's abrupt teardown
// must not disturb availability for the next incoming call.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/swapit-app/calls/internal/signaling"
	"github.com/swapit-app/calls/internal/util"
)

// reconnectDelay is the fixed backoff between reconnect attempts. Attempts
// are unbounded: the guarantee is "eventually listening", not "always
// connected".
const reconnectDelay = 3 * time.Second

// ErrNoPendingCall is returned by Accept/Reject when no offer is waiting.
var ErrNoPendingCall = errors.New("no pending incoming call")

// PendingIncomingCall is the offer buffered between receipt and the user's
// accept/reject decision.
type PendingIncomingCall struct {
	CallerID   int
	CallerName string
	Offer      *webrtc.SessionDescription
}

// Conn is the slice of the signaling client the listener uses.
type Conn interface {
	Send(signaling.Message) error
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a signaling connection registered under userID with the
// given message handler installed before any message can arrive.
type DialFunc func(ctx context.Context, userID int, handler func(signaling.Message)) (Conn, error)

// Ringer plays the audible incoming-call alert.
type Ringer interface {
	Play()
	Stop()
}

// Notifier surfaces a visual incoming-call notification.
type Notifier interface {
	Notify(title, body string)
}

// Listener owns the presence connection and its reconnect loop.
type Listener struct {
	dial   DialFunc
	clk    clock.Clock
	ring   Ringer
	notify Notifier

	onIncoming func(*PendingIncomingCall)

	mu      sync.Mutex
	userID  int
	started bool
	conn    Conn
	pending *PendingIncomingCall
	stop    chan struct{}
}

// New creates a listener. ring and notify may be nil; clk may be nil to use
// the wall clock (tests inject a mock).
func New(dial DialFunc, ring Ringer, notify Notifier, clk clock.Clock) *Listener {
	if clk == nil {
		clk = clock.New()
	}
	return &Listener{dial: dial, clk: clk, ring: ring, notify: notify}
}

// Dial returns the production DialFunc for the relay at serverURL.
func Dial(serverURL string) DialFunc {
	return func(ctx context.Context, userID int, handler func(signaling.Message)) (Conn, error) {
		c, err := signaling.NewClient(serverURL, userID)
		if err != nil {
			return nil, err
		}
		c.OnMessage(handler)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// OnIncoming registers the callback fired when an offer is surfaced. Must be
// set before Start.
func (l *Listener) OnIncoming(fn func(*PendingIncomingCall)) {
	l.onIncoming = fn
}

// Start opens the presence connection for userID and begins listening.
// Idempotent per user id: a second Start for the same id is a no-op, a Start
// for a different id while running is an error.
func (l *Listener) Start(ctx context.Context, userID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		if l.userID == userID {
			return nil
		}
		return fmt.Errorf("listener already started for user %d", l.userID)
	}
	l.started = true
	l.userID = userID
	l.stop = make(chan struct{})

	go l.run(ctx, userID, l.stop)
	return nil
}

// run is the connect/reconnect loop. It exits only on Stop or context
// cancellation; a Stop issued during the backoff window cancels the pending
// reconnect timer.
func (l *Listener) run(ctx context.Context, userID int, stop chan struct{}) {
	for {
		conn, err := l.dial(ctx, userID, l.handleMessage)
		if err != nil {
			util.LogWarning("presence connection failed: %v", err)
			if !l.wait(ctx, stop) {
				return
			}
			util.Stats.AddReconnect()
			continue
		}

		l.mu.Lock()
		select {
		case <-stop:
			l.mu.Unlock()
			conn.Close()
			return
		default:
		}
		l.conn = conn
		l.mu.Unlock()

		util.LogInfo("presence listener connected for user %d", userID)

		select {
		case <-conn.Done():
			util.LogWarning("presence connection lost, reconnecting in %s", reconnectDelay)
		case <-stop:
			conn.Close()
			return
		case <-ctx.Done():
			conn.Close()
			return
		}

		if !l.wait(ctx, stop) {
			return
		}
		util.Stats.AddReconnect()
	}
}

// wait sleeps for the fixed backoff. Returns false if the listener was
// stopped or the context cancelled during the window.
func (l *Listener) wait(ctx context.Context, stop chan struct{}) bool {
	timer := l.clk.Timer(reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// handleMessage processes inbound presence messages. Only offers matter on
// this channel; everything else belongs to a call session's own connection.
func (l *Listener) handleMessage(msg signaling.Message) {
	if msg.Type != signaling.MsgTypeOffer || msg.Offer == nil {
		return
	}

	l.mu.Lock()
	if l.pending != nil {
		// One pending call at a time: answer a concurrent second offer with
		// a busy signal instead of silently dropping it.
		conn := l.conn
		busy := l.pending.CallerID != msg.CallerID
		l.mu.Unlock()
		if busy && conn != nil {
			util.LogInfo("busy: rejecting concurrent offer from user %d", msg.CallerID)
			if err := conn.Send(signaling.Message{
				Type:   signaling.MsgTypeEnd,
				PeerID: msg.CallerID,
			}); err != nil {
				util.LogWarning("failed to send busy signal: %v", err)
			}
		}
		return
	}

	pending := &PendingIncomingCall{
		CallerID:   msg.CallerID,
		CallerName: msg.CallerName,
		Offer:      msg.Offer,
	}
	if pending.CallerName == "" {
		pending.CallerName = "Unknown"
	}
	l.pending = pending
	cb := l.onIncoming
	l.mu.Unlock()

	util.Stats.AddReceived()
	util.LogInfo("incoming call from %s (%d)", pending.CallerName, pending.CallerID)

	if l.ring != nil {
		l.ring.Play()
	}
	if l.notify != nil {
		l.notify.Notify("Incoming Call", fmt.Sprintf("%s is calling you...", pending.CallerName))
	}
	if cb != nil {
		cb(pending)
	}
}

// Accept stops the ringtone and hands the buffered offer to the host, which
// constructs a call session in incoming mode from it.
func (l *Listener) Accept() (*PendingIncomingCall, error) {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	if pending == nil {
		return nil, ErrNoPendingCall
	}
	if l.ring != nil {
		l.ring.Stop()
	}
	return pending, nil
}

// Reject stops the ringtone, tells the caller the call is over, and discards
// the buffered offer.
func (l *Listener) Reject() error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	conn := l.conn
	l.mu.Unlock()

	if pending == nil {
		return ErrNoPendingCall
	}
	if l.ring != nil {
		l.ring.Stop()
	}
	if conn == nil {
		return nil
	}
	return conn.Send(signaling.Message{
		Type:   signaling.MsgTypeEnd,
		PeerID: pending.CallerID,
	})
}

// Pending returns the currently buffered incoming call, if any.
func (l *Listener) Pending() *PendingIncomingCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Stop closes the connection, cancels any pending reconnect, and stops the
// ringtone. Called on logout or session teardown.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	close(l.stop)
	conn := l.conn
	l.conn = nil
	l.pending = nil
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if l.ring != nil {
		l.ring.Stop()
	}
}
