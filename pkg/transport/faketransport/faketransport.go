// Package faketransport is an in-memory transport.Transport used by the
// session/device/platform test suites, grounded on
// ZaparooProject-go-pn532's BlockingMockTransport (testing_helpers.go):
// a scriptable fake that lets tests drive presence and response behavior
// directly instead of talking to real hardware.
package faketransport

import (
	"context"
	"sync"
	"time"

	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/transport"
)

// TransmitFunc answers one Transmit call.
type TransmitFunc func(cmd []byte) ([]byte, error)

type card struct {
	atr      []byte
	transmit TransmitFunc
}

type device struct {
	info   transport.DeviceInfo
	caps   transport.Capabilities
	opened bool
	card   *card
	notify chan struct{} // closed and replaced on every presence change
}

// Transport is a fully in-memory transport.Transport implementation.
type Transport struct {
	mu      sync.Mutex
	devices map[string]*device
}

// New creates an empty Transport with no devices registered.
func New() *Transport {
	return &Transport{devices: make(map[string]*device)}
}

// AddDevice registers a device that Enumerate/Open will see.
func (t *Transport) AddDevice(info transport.DeviceInfo, caps transport.Capabilities) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices[info.ID] = &device{info: info, caps: caps, notify: make(chan struct{})}
}

// SetCardPresent places a card on deviceID, answering Transmit calls with
// fn and ATR with atr, and wakes any blocked Wait calls.
func (t *Transport) SetCardPresent(deviceID string, atr []byte, fn TransmitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[deviceID]
	if !ok {
		return
	}
	d.card = &card{atr: atr, transmit: fn}
	close(d.notify)
	d.notify = make(chan struct{})
}

// SetCardAbsent removes any card from deviceID and wakes blocked Wait calls
// (so a consumer polling IsPresent observes the removal).
func (t *Transport) SetCardAbsent(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[deviceID]
	if !ok {
		return
	}
	d.card = nil
	close(d.notify)
	d.notify = make(chan struct{})
}

func (t *Transport) deviceFor(h transport.Handle) (*device, bool) {
	id, ok := h.(string)
	if !ok {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[id]
	return d, ok
}

// Enumerate implements transport.Transport.
func (t *Transport) Enumerate(_ context.Context) ([]transport.DeviceInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	infos := make([]transport.DeviceInfo, 0, len(t.devices))
	for _, d := range t.devices {
		infos = append(infos, d.info)
	}
	return infos, nil
}

// Open implements transport.Transport.
func (t *Transport) Open(_ context.Context, id string) (transport.Handle, transport.Capabilities, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[id]
	if !ok {
		return nil, transport.Capabilities{}, cardkiterr.New(cardkiterr.NoReaders, "no such device: "+id)
	}
	d.opened = true
	return id, d.caps, nil
}

// IsPresent implements transport.Transport.
func (t *Transport) IsPresent(_ context.Context, h transport.Handle) (bool, error) {
	d, ok := t.deviceFor(h)
	if !ok {
		return false, cardkiterr.New(cardkiterr.NotConnected, "unknown handle")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return d.card != nil, nil
}

// Wait implements transport.Transport.
func (t *Transport) Wait(ctx context.Context, h transport.Handle, timeoutMs int) error {
	d, ok := t.deviceFor(h)
	if !ok {
		return cardkiterr.New(cardkiterr.NotConnected, "unknown handle")
	}

	for {
		t.mu.Lock()
		if d.card != nil {
			t.mu.Unlock()
			return nil
		}
		notify := d.notify
		t.mu.Unlock()

		var timer *time.Timer
		var timeoutCh <-chan time.Time
		if timeoutMs > 0 {
			timer = time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
			timeoutCh = timer.C
		}

		select {
		case <-notify:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timeoutCh:
			return cardkiterr.New(cardkiterr.Timeout, "wait timed out")
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return cardkiterr.New(cardkiterr.Timeout, "wait cancelled")
		}
	}
}

// Connect implements transport.Transport.
func (t *Transport) Connect(_ context.Context, h transport.Handle) (transport.Card, error) {
	d, ok := t.deviceFor(h)
	if !ok {
		return nil, cardkiterr.New(cardkiterr.NotConnected, "unknown handle")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d.card == nil {
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "no card on device")
	}
	return d.card, nil
}

// ATR implements transport.Transport.
func (t *Transport) ATR(_ context.Context, c transport.Card) ([]byte, error) {
	cd, ok := c.(*card)
	if !ok {
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "invalid card handle")
	}
	return cd.atr, nil
}

// Transmit implements transport.Transport.
func (t *Transport) Transmit(_ context.Context, c transport.Card, cmd []byte) ([]byte, error) {
	cd, ok := c.(*card)
	if !ok {
		return nil, cardkiterr.New(cardkiterr.CardNotPresent, "invalid card handle")
	}
	if cd.transmit == nil {
		return nil, cardkiterr.New(cardkiterr.TransmissionError, "no transmit function configured")
	}
	resp, err := cd.transmit(cmd)
	if err != nil {
		// A TransmitFunc may already carry a specific Kind (e.g. a scripted
		// card-removal mid-transmit); only wrap untyped errors.
		if cardkiterr.Of(err) != cardkiterr.PlatformError {
			return nil, err
		}
		return nil, cardkiterr.Wrap(cardkiterr.TransmissionError, "transmit failed", err)
	}
	return resp, nil
}

// Reset implements transport.Transport.
func (t *Transport) Reset(_ context.Context, c transport.Card) error {
	if _, ok := c.(*card); !ok {
		return cardkiterr.New(cardkiterr.CardNotPresent, "invalid card handle")
	}
	return nil
}

// Close implements transport.Transport.
func (t *Transport) Close(_ context.Context, _ transport.Card) error {
	return nil
}

// CloseDevice implements transport.Transport.
func (t *Transport) CloseDevice(_ context.Context, h transport.Handle) error {
	d, ok := t.deviceFor(h)
	if !ok {
		return nil
	}
	t.mu.Lock()
	d.opened = false
	t.mu.Unlock()
	return nil
}
