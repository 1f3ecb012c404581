// Package platform implements Platform (spec.md §4.8): the top-level
// Uninitialized→Initialized→Releasing lifecycle that owns the device
// id→handle map and cascades release down to every acquired Device.
package platform

import (
	"context"
	"log"
	"sync"

	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/device"
	"github.com/gregLibert/cardkit/pkg/event"
	"github.com/gregLibert/cardkit/pkg/transport"
)

// State is one of the closed Platform states (spec.md §3).
type State int

const (
	Uninitialized State = iota
	Initialized
	Releasing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Releasing:
		return "Releasing"
	default:
		return "Unknown"
	}
}

// Platform is the process's single entry point into the transport.
type Platform struct {
	mu    sync.Mutex
	state State

	transport transport.Transport
	bus       *event.Bus

	// devicesMu guards the acquired-device map only; it never nests with a
	// Device's own lock, matching the rest of the lifecycle's
	// lock-never-nests-downward discipline.
	devicesMu sync.Mutex
	devices   map[string]*device.Device
}

// New constructs an uninitialized Platform over tr. bus may be nil, in
// which case no lifecycle events are emitted.
func New(tr transport.Transport, bus *event.Bus) *Platform {
	return &Platform{
		transport: tr,
		bus:       bus,
		devices:   make(map[string]*device.Device),
	}
}

// State returns the platform's current state.
func (p *Platform) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Init transitions Uninitialized → Initialized and emits
// PLATFORM_INITIALIZED. Calling it while already Initialized fails
// ALREADY_INITIALIZED unless force is set, in which case the platform is
// implicitly released first.
func (p *Platform) Init(ctx context.Context, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Initialized {
		if !force {
			return cardkiterr.New(cardkiterr.AlreadyInitialized, "platform is already initialized")
		}
		p.releaseLocked(ctx)
	}

	p.state = Initialized
	if p.bus != nil {
		p.bus.Emit(event.PlatformInitialized, "", "")
	}
	return nil
}

// Release transitions Initialized → Uninitialized, cascading release to
// every acquired Device first. Calling it while not Initialized fails
// NOT_INITIALIZED unless force is set, in which case it is a no-op.
func (p *Platform) Release(ctx context.Context, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Initialized {
		if !force {
			return cardkiterr.New(cardkiterr.NotInitialized, "platform is not initialized")
		}
		return nil
	}

	p.releaseLocked(ctx)
	return nil
}

// releaseLocked performs the cascade. Caller must hold p.mu.
func (p *Platform) releaseLocked(ctx context.Context) {
	p.state = Releasing

	p.devicesMu.Lock()
	devs := make([]*device.Device, 0, len(p.devices))
	for _, d := range p.devices {
		devs = append(devs, d)
	}
	p.devices = make(map[string]*device.Device)
	p.devicesMu.Unlock()

	for _, d := range devs {
		if err := d.Release(ctx); err != nil {
			log.Printf("platform: releasing device: %v", err)
		}
	}

	p.state = Uninitialized
	if p.bus != nil {
		p.bus.Emit(event.PlatformReleased, "", "")
	}
}

// GetDeviceInfo enumerates every device the transport currently exposes.
// Requires Initialized.
func (p *Platform) GetDeviceInfo(ctx context.Context) ([]transport.DeviceInfo, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != Initialized {
		return nil, cardkiterr.New(cardkiterr.NotInitialized, "platform is not initialized")
	}
	return p.transport.Enumerate(ctx)
}

// AcquireDevice opens id and returns a live Device bound to it. Fails
// NOT_INITIALIZED if the platform isn't initialized, INVALID_PARAMETER if
// id is empty or unknown, ALREADY_ACQUIRED if id is already held, and
// UNSUPPORTED_OPERATION if the device doesn't support APDU exchange.
func (p *Platform) AcquireDevice(ctx context.Context, id string) (*device.Device, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != Initialized {
		return nil, cardkiterr.New(cardkiterr.NotInitialized, "platform is not initialized")
	}
	if id == "" {
		return nil, cardkiterr.New(cardkiterr.InvalidParameter, "device id is required")
	}

	p.devicesMu.Lock()
	if _, exists := p.devices[id]; exists {
		p.devicesMu.Unlock()
		return nil, cardkiterr.New(cardkiterr.AlreadyAcquired, "device already acquired: "+id)
	}
	p.devicesMu.Unlock()

	infos, err := p.transport.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	var info transport.DeviceInfo
	found := false
	for _, i := range infos {
		if i.ID == id {
			info = i
			found = true
			break
		}
	}
	if !found {
		return nil, cardkiterr.New(cardkiterr.InvalidParameter, "unknown device id: "+id)
	}
	if !info.SupportsApdu {
		return nil, cardkiterr.New(cardkiterr.UnsupportedOp, "device does not support APDU exchange: "+id)
	}

	handle, _, err := p.transport.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	d := device.New(id, info, handle, p.transport, p.bus)

	p.devicesMu.Lock()
	if _, exists := p.devices[id]; exists {
		p.devicesMu.Unlock()
		if relErr := d.Release(ctx); relErr != nil {
			log.Printf("platform: releasing redundant device acquisition: %v", relErr)
		}
		return nil, cardkiterr.New(cardkiterr.AlreadyAcquired, "device already acquired: "+id)
	}
	p.devices[id] = d
	p.devicesMu.Unlock()

	return d, nil
}
