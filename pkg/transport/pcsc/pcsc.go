//go:build pcsc

// Package pcsc is the concrete PC/SC-backed transport.Transport (spec.md
// §1 names "concrete native transport backends" as an out-of-scope external
// collaborator, but requires one exist to exercise the contract
// end-to-end). It is gated behind the pcsc build tag so the core module
// stays free of ebfe/scard's cgo dependency on the system PC/SC library
// unless a caller opts in.
//
// Grounded on the teacher's main.go, which drives github.com/ebfe/scard
// directly: EstablishContext, ListReaders, Connect(reader, ShareShared,
// ProtocolT0|ProtocolT1), and Card.Transmit/Disconnect.
package pcsc

import (
	"context"
	"errors"
	"time"

	"github.com/ebfe/scard"

	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/transport"
)

// Transport is a transport.Transport backed by one PC/SC context.
type Transport struct {
	ctx *scard.Context
}

// New establishes a PC/SC context and returns a ready-to-use Transport.
func New() (*Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, cardkiterr.Wrap(cardkiterr.PlatformError, "failed to establish PC/SC context", err)
	}
	return &Transport{ctx: ctx}, nil
}

// Close releases the underlying PC/SC context. Not part of the
// transport.Transport interface; called once at process shutdown.
func (t *Transport) Close() error {
	return t.ctx.Release()
}

// Enumerate implements transport.Transport.
func (t *Transport) Enumerate(_ context.Context) ([]transport.DeviceInfo, error) {
	readers, err := t.ctx.ListReaders()
	if err != nil {
		return nil, cardkiterr.Wrap(cardkiterr.ReaderError, "failed to list readers", err)
	}
	if len(readers) == 0 {
		return nil, cardkiterr.New(cardkiterr.NoReaders, "no PC/SC readers found")
	}

	infos := make([]transport.DeviceInfo, 0, len(readers))
	for _, r := range readers {
		infos = append(infos, transport.DeviceInfo{
			ID:            r,
			Name:          r,
			SupportsApdu:  true,
			IsRemovable:   true,
			D2CProtocol:   transport.ProtocolISO7816,
			P2DProtocol:   transport.ProtocolUSB,
			TransportAPIs: []string{"pcsc"},
		})
	}
	return infos, nil
}

// Open implements transport.Transport. The PC/SC handle is simply the
// reader name; a given reader is opened at most once per Platform via the
// platform package's own id→handle map.
func (t *Transport) Open(_ context.Context, id string) (transport.Handle, transport.Capabilities, error) {
	readers, err := t.ctx.ListReaders()
	if err != nil {
		return nil, transport.Capabilities{}, cardkiterr.Wrap(cardkiterr.ReaderError, "failed to list readers", err)
	}
	for _, r := range readers {
		if r == id {
			return id, transport.Capabilities{SupportsApdu: true}, nil
		}
	}
	return nil, transport.Capabilities{}, cardkiterr.New(cardkiterr.NoReaders, "reader not found: "+id)
}

// IsPresent implements transport.Transport.
func (t *Transport) IsPresent(_ context.Context, h transport.Handle) (bool, error) {
	reader, ok := h.(string)
	if !ok {
		return false, cardkiterr.New(cardkiterr.NotConnected, "invalid handle")
	}

	states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	if err := t.ctx.GetStatusChange(states, 0); err != nil {
		return false, cardkiterr.Wrap(cardkiterr.ReaderError, "status check failed", err)
	}
	return states[0].EventState&scard.StatePresent != 0, nil
}

// Wait implements transport.Transport, polling GetStatusChange in short
// slices so ctx cancellation is observed promptly rather than blocking for
// the full timeout.
func (t *Transport) Wait(ctx context.Context, h transport.Handle, timeoutMs int) error {
	reader, ok := h.(string)
	if !ok {
		return cardkiterr.New(cardkiterr.NotConnected, "invalid handle")
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	const pollInterval = 200 * time.Millisecond
	states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}

	for {
		select {
		case <-ctx.Done():
			return cardkiterr.New(cardkiterr.Timeout, "wait cancelled")
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return cardkiterr.New(cardkiterr.Timeout, "wait timed out")
		}

		slice := pollInterval
		if remaining < slice {
			slice = remaining
		}

		if err := t.ctx.GetStatusChange(states, slice); err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			return cardkiterr.Wrap(cardkiterr.ReaderError, "status change failed", err)
		}

		if states[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

// Connect implements transport.Transport.
func (t *Transport) Connect(_ context.Context, h transport.Handle) (transport.Card, error) {
	reader, ok := h.(string)
	if !ok {
		return nil, cardkiterr.New(cardkiterr.NotConnected, "invalid handle")
	}

	card, err := t.ctx.Connect(reader, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return nil, cardkiterr.Wrap(cardkiterr.CardNotPresent, "connect failed", err)
	}
	return card, nil
}

// ATR implements transport.Transport.
func (t *Transport) ATR(_ context.Context, c transport.Card) ([]byte, error) {
	card, ok := c.(*scard.Card)
	if !ok {
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "invalid card handle")
	}
	status, err := card.Status()
	if err != nil {
		return nil, cardkiterr.Wrap(cardkiterr.ProtocolError, "status failed", err)
	}
	return status.Atr, nil
}

// Transmit implements transport.Transport.
func (t *Transport) Transmit(_ context.Context, c transport.Card, cmd []byte) ([]byte, error) {
	card, ok := c.(*scard.Card)
	if !ok {
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "invalid card handle")
	}
	resp, err := card.Transmit(cmd)
	if err != nil {
		return nil, cardkiterr.Wrap(cardkiterr.TransmissionError, "transmit failed", err)
	}
	return resp, nil
}

// Reset implements transport.Transport by reconnecting with the
// ResetCard disposition, matching how main.go configures the original
// connection (shared mode, T=0 or T=1).
func (t *Transport) Reset(_ context.Context, c transport.Card) error {
	card, ok := c.(*scard.Card)
	if !ok {
		return cardkiterr.New(cardkiterr.CardNotPresent, "invalid card handle")
	}
	if err := card.Reconnect(scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1, scard.ResetCard); err != nil {
		return cardkiterr.Wrap(cardkiterr.ProtocolError, "reconnect failed", err)
	}
	return nil
}

// Close implements transport.Transport.
func (t *Transport) Close(_ context.Context, c transport.Card) error {
	card, ok := c.(*scard.Card)
	if !ok {
		return nil
	}
	return card.Disconnect(scard.LeaveCard)
}

// CloseDevice implements transport.Transport. PC/SC readers don't need an
// explicit release beyond the context itself, held by the owning Platform.
func (t *Transport) CloseDevice(_ context.Context, _ transport.Handle) error {
	return nil
}
