// Package session implements CardSession (spec.md §4.6): a serialized APDU
// exchange bound to exactly one transport.Card for its lifetime. Every
// operation runs under the session's exclusive lock; apdu.Client.Send is
// invoked internally so callers see only the final Response, never the
// intermediate 61XX/6CXX legs.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gregLibert/cardkit/pkg/apdu"
	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/event"
	"github.com/gregLibert/cardkit/pkg/transport"
)

// State is one of the closed CardSession states (spec.md §3).
type State int

const (
	Open State = iota
	Transmitting
	Resetting
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Transmitting:
		return "Transmitting"
	case Resetting:
		return "Resetting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Reconnector asks the owning Device for a fresh transport.Card, preserving
// RF where the backend supports it. Reset uses this when supplied; a nil
// Reconnector falls back to the transport's own Reset operation.
type Reconnector func(ctx context.Context) (transport.Card, error)

// Deps are the collaborators a CardSession needs; Device constructs one of
// these per startSession call.
type Deps struct {
	Transport     transport.Transport
	Card          transport.Card
	Bus           *event.Bus
	EmitterHandle string
	Reconnect     Reconnector
}

// CardSession is a serialized APDU exchange over one transport.Card.
type CardSession struct {
	mu    sync.Mutex
	state State

	transport     transport.Transport
	card          transport.Card
	bus           *event.Bus
	emitterHandle string
	reconnect     Reconnector
}

// New constructs a CardSession in the Open state and emits
// CARD_SESSION_STARTED.
func New(deps Deps) *CardSession {
	s := &CardSession{
		state:         Open,
		transport:     deps.Transport,
		card:          deps.Card,
		bus:           deps.Bus,
		emitterHandle: deps.EmitterHandle,
		reconnect:     deps.Reconnect,
	}
	if s.bus != nil {
		s.bus.Emit(event.CardSessionStarted, s.emitterHandle, "")
	}
	return s
}

// State returns the session's current state. Synchronous, per spec.md §5.
func (s *CardSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type cardTransmitter struct {
	transport transport.Transport
	card      transport.Card
}

func (c cardTransmitter) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	return c.transport.Transmit(ctx, c.card, cmd)
}

// Transmit encodes cmd, dispatches it (and any 61XX/6CXX follow-ups)
// through apdu.Client, and returns the final Response. It does not
// interpret sw; 63CX and similar codes are left for the application.
func (s *CardSession) Transmit(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return nil, cardkiterr.New(cardkiterr.NotConnected, "session is closed")
	}

	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	prev := s.state
	s.state = Transmitting
	if s.bus != nil {
		s.bus.Emit(event.ApduSent, s.emitterHandle, fmt.Sprintf("%d bytes", len(rawCmd)))
	}

	client := apdu.NewClient(cardTransmitter{transport: s.transport, card: s.card})
	trace, err := client.Send(ctx, cmd)
	if err != nil {
		if cardkiterr.Of(err) == cardkiterr.CardNotPresent {
			s.state = Closed
			if s.bus != nil {
				s.bus.Emit(event.CardLost, s.emitterHandle, "")
			}
		} else {
			s.state = prev
		}
		if s.bus != nil {
			s.bus.Emit(event.ApduFailed, s.emitterHandle, err.Error())
		}
		return nil, err
	}

	s.state = prev
	return trace.Last().Response, nil
}

// GetAtr returns the card's answer-to-reset, preferring historical bytes
// when the ATR carries them, falling back to the raw ATR, then to an empty
// slice.
func (s *CardSession) GetAtr(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return nil, cardkiterr.New(cardkiterr.NotConnected, "session is closed")
	}

	raw, err := s.transport.ATR(ctx, s.card)
	if err != nil {
		return nil, err
	}

	if hist := historicalBytes(raw); len(hist) > 0 {
		return hist, nil
	}
	if len(raw) > 0 {
		return raw, nil
	}
	return []byte{}, nil
}

// Reset closes the current card handle and obtains a fresh one, either via
// the supplied Reconnector or the transport's own Reset, then emits
// CARD_SESSION_RESET.
func (s *CardSession) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return cardkiterr.New(cardkiterr.NotConnected, "session is closed")
	}

	s.state = Resetting
	if err := s.transport.Close(ctx, s.card); err != nil {
		log.Printf("session: closing card handle before reset: %v", err)
	}

	if s.reconnect != nil {
		newCard, err := s.reconnect(ctx)
		if err != nil {
			s.state = Closed
			return err
		}
		s.card = newCard
	} else if err := s.transport.Reset(ctx, s.card); err != nil {
		s.state = Closed
		return cardkiterr.Wrap(cardkiterr.ProtocolError, "reset failed", err)
	}

	s.state = Open
	if s.bus != nil {
		s.bus.Emit(event.CardSessionReset, s.emitterHandle, "")
	}
	return nil
}

// Release closes the card handle and moves the session to Closed. Every
// subsequent operation fails with NOT_CONNECTED. Idempotent.
func (s *CardSession) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return nil
	}

	if err := s.transport.Close(ctx, s.card); err != nil {
		log.Printf("session: closing card handle on release: %v", err)
	}
	s.state = Closed
	return nil
}

// historicalBytes extracts the historical-bytes segment from a raw
// ISO/IEC 7816-3 ATR, per the TS/T0 interface-byte-group structure. It
// returns nil if the ATR is too short or malformed to locate them.
func historicalBytes(atr []byte) []byte {
	if len(atr) < 2 {
		return nil
	}

	t0 := atr[1]
	numHistorical := int(t0 & 0x0F)
	y := t0 >> 4
	idx := 2

	for {
		if y&0x1 != 0 {
			idx++
		}
		if y&0x2 != 0 {
			idx++
		}
		if y&0x4 != 0 {
			idx++
		}
		if y&0x8 == 0 {
			break
		}
		if idx >= len(atr) {
			return nil
		}
		td := atr[idx]
		idx++
		y = td >> 4
	}

	if idx > len(atr) {
		return nil
	}
	if idx+numHistorical > len(atr) {
		numHistorical = len(atr) - idx
	}
	if numHistorical <= 0 {
		return nil
	}
	return atr[idx : idx+numHistorical]
}
