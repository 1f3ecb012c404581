// Package device implements Device (spec.md §4.7): the Idle→RfActive→
// CardDetected→SessionActive state machine bound to one transport.Handle,
// including card-presence waiting with cancellation/timeout semantics and
// the cascading release that closes any active CardSession first.
package device

import (
	"context"
	"log"
	"sync"

	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/event"
	"github.com/gregLibert/cardkit/pkg/session"
	"github.com/gregLibert/cardkit/pkg/transport"
)

// State is one of the closed Device states (spec.md §3). Idle is never
// actually entered: a Device starts life in RfActive immediately after
// Platform.acquireDevice opens its handle.
type State int

const (
	Idle State = iota
	RfActive
	CardDetected
	SessionActive
	Released
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RfActive:
		return "RfActive"
	case CardDetected:
		return "CardDetected"
	case SessionActive:
		return "SessionActive"
	case Released:
		return "Released"
	default:
		return "Unknown"
	}
}

// DefaultWaitTimeoutMs is used by callers that don't supply an explicit
// timeout to waitForCardPresence (spec.md §4.7).
const DefaultWaitTimeoutMs = 30000

// Device is bound to exactly one transport.Handle for its lifetime.
type Device struct {
	mu    sync.Mutex
	state State

	id            string
	info          transport.DeviceInfo
	handle        transport.Handle
	transport     transport.Transport
	bus           *event.Bus
	activeSession *session.CardSession

	releaseCtx context.Context
	cancelRel  context.CancelFunc
}

// New constructs a Device already in RfActive and emits DEVICE_ACQUIRED.
// The bus is shared with any CardSession this Device starts, so a
// CARD_LOST emitted by the session is also observed here to drive the
// SessionActive → RfActive transition.
func New(id string, info transport.DeviceInfo, handle transport.Handle, tr transport.Transport, bus *event.Bus) *Device {
	releaseCtx, cancel := context.WithCancel(context.Background())
	d := &Device{
		state:      RfActive,
		id:         id,
		info:       info,
		handle:     handle,
		transport:  tr,
		bus:        bus,
		releaseCtx: releaseCtx,
		cancelRel:  cancel,
	}

	if bus != nil {
		bus.Subscribe(event.CardLost, func(e event.Event) {
			if e.Handle != id {
				return
			}
			d.mu.Lock()
			if d.state == SessionActive {
				d.state = RfActive
				d.activeSession = nil
			}
			d.mu.Unlock()
		})
		bus.Emit(event.DeviceAcquired, id, "")
	}

	return d
}

// Info returns the device's static descriptor. Synchronous (spec.md §5).
func (d *Device) Info() transport.DeviceInfo {
	return d.info
}

// State returns the device's current state. Synchronous.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsAvailable reports whether the device has not been released.
func (d *Device) IsAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != Released
}

// IsCardPresent asks the transport directly whether a card currently sits
// on this device's handle.
func (d *Device) IsCardPresent(ctx context.Context) (bool, error) {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()
	if state == Released {
		return false, cardkiterr.New(cardkiterr.NotConnected, "device released")
	}
	return d.transport.IsPresent(ctx, d.handle)
}

// WaitForCardPresence suspends until the next card is detected or
// timeoutMs elapses. timeoutMs == 0 fails immediately with TIMEOUT;
// timeoutMs < 0 fails with INVALID_PARAMETER. Cancellation (caller or
// Device.Release) also resolves with TIMEOUT.
func (d *Device) WaitForCardPresence(ctx context.Context, timeoutMs int) error {
	if timeoutMs < 0 {
		return cardkiterr.New(cardkiterr.InvalidParameter, "timeout must be >= 0")
	}
	if timeoutMs == 0 {
		return cardkiterr.New(cardkiterr.Timeout, "zero timeout never waits")
	}

	d.mu.Lock()
	if d.state == Released {
		d.mu.Unlock()
		return cardkiterr.New(cardkiterr.NotConnected, "device released")
	}
	if d.state == CardDetected || d.state == SessionActive {
		// Dedup: presence is already established, collapse into an
		// immediate success rather than waiting for a fresh signal.
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	waitCtx, cancel := mergeCancel(ctx, d.releaseCtx)
	defer cancel()

	if err := d.transport.Wait(waitCtx, d.handle, timeoutMs); err != nil {
		if d.bus != nil {
			d.bus.Emit(event.WaitTimeout, d.id, "")
		}
		return err
	}

	d.mu.Lock()
	if d.state == RfActive {
		d.state = CardDetected
	}
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Emit(event.CardFound, d.id, "")
	}
	return nil
}

// StartSession opens a CardSession over the currently detected card.
// Requires CardDetected; fails ALREADY_CONNECTED if a session is already
// active, and CARD_NOT_PRESENT if presence was lost between detection and
// connect.
func (d *Device) StartSession(ctx context.Context) (*session.CardSession, error) {
	d.mu.Lock()
	switch d.state {
	case Released:
		d.mu.Unlock()
		return nil, cardkiterr.New(cardkiterr.NotConnected, "device released")
	case SessionActive:
		d.mu.Unlock()
		return nil, cardkiterr.New(cardkiterr.AlreadyConnected, "a session is already active")
	case CardDetected:
		// proceed below
	default:
		d.mu.Unlock()
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "no card detected")
	}
	d.mu.Unlock()

	card, err := d.transport.Connect(ctx, d.handle)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.state != CardDetected {
		d.mu.Unlock()
		if closeErr := d.transport.Close(ctx, card); closeErr != nil {
			log.Printf("device: closing stray card handle: %v", closeErr)
		}
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "card no longer present")
	}

	sess := session.New(session.Deps{
		Transport:     d.transport,
		Card:          card,
		Bus:           d.bus,
		EmitterHandle: d.id,
		Reconnect: func(ctx context.Context) (transport.Card, error) {
			return d.transport.Connect(ctx, d.handle)
		},
	})
	d.state = SessionActive
	d.activeSession = sess
	d.mu.Unlock()

	return sess, nil
}

// Release closes any active CardSession, releases the transport handle,
// emits DEVICE_RELEASED and unblocks any in-flight WaitForCardPresence
// with TIMEOUT. Idempotent.
func (d *Device) Release(ctx context.Context) error {
	d.mu.Lock()
	if d.state == Released {
		d.mu.Unlock()
		return nil
	}
	sess := d.activeSession
	d.activeSession = nil
	d.state = Released
	d.mu.Unlock()

	d.cancelRel()

	if sess != nil {
		if err := sess.Release(ctx); err != nil {
			log.Printf("device: releasing active session: %v", err)
		}
	}
	if err := d.transport.CloseDevice(ctx, d.handle); err != nil {
		log.Printf("device: closing device handle: %v", err)
	}
	if d.bus != nil {
		d.bus.Emit(event.DeviceReleased, d.id, "")
	}
	return nil
}

// mergeCancel returns a context cancelled when either parent or other is
// done, since context has no built-in two-parent join.
func mergeCancel(parent, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	go func() {
		select {
		case <-other.Done():
			cancel()
		case <-stop:
		}
	}()
	return merged, func() {
		close(stop)
		cancel()
	}
}
