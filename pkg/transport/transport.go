// Package transport defines the minimal async I/O contract (spec.md §4.3)
// that a physical backend implements: enumerate devices, open a handle,
// watch for card presence, connect/transmit/reset/close. The core lifecycle
// packages (session, device, platform) depend only on this interface, never
// on a concrete backend; transport/pcsc supplies one concrete
// implementation over PC/SC.
package transport

import "context"

// D2CProtocol is one of the closed set of device-to-card / peripheral-to-
// device protocol tags carried on DeviceInfo.
type D2CProtocol string

const (
	ProtocolISO7816  D2CProtocol = "iso7816"
	ProtocolNFC      D2CProtocol = "nfc"
	ProtocolUSB      D2CProtocol = "usb"
	ProtocolBLE      D2CProtocol = "ble"
	ProtocolInternal D2CProtocol = "internal"
)

// FormFactor is the closed set of device shapes used by AntennaInfo.
type FormFactor string

const (
	FormFactorPhone   FormFactor = "phone"
	FormFactorTablet  FormFactor = "tablet"
	FormFactorBifold  FormFactor = "bifold"
	FormFactorTrifold FormFactor = "trifold"
	FormFactorUnknown FormFactor = "unknown"
)

// DeviceInfo is Platform's immutable descriptor of one reader/adapter
// (spec.md §3).
type DeviceInfo struct {
	ID            string
	Name          string
	Description   string
	SupportsApdu  bool
	SupportsHce   bool
	IsIntegrated  bool
	IsRemovable   bool
	D2CProtocol   D2CProtocol
	P2DProtocol   D2CProtocol
	TransportAPIs []string
}

// AntennaCircle is one antenna's position and radius in device-local
// millimetre coordinates.
type AntennaCircle struct {
	CenterX float64
	CenterY float64
	Radius  float64
}

// AntennaInfo is optional per-device physical antenna geometry, consumed by
// external UIs only; the core never reads it.
type AntennaInfo struct {
	WidthMM    float64
	HeightMM   float64
	Antennas   []AntennaCircle
	FormFactor FormFactor
}

// Capabilities describes what an opened device handle supports, returned
// alongside the Handle from Open.
type Capabilities struct {
	SupportsApdu bool
}

// Handle is an opaque, backend-defined reference to an opened device.
type Handle any

// Card is an opaque, backend-defined reference to a connected card on a
// Handle.
type Card any

// Transport is the contract a backend implements (spec.md §4.3). Every
// operation is asynchronous (it may block on ctx) unless documented
// otherwise; Wait, Transmit and the connect path must honor ctx
// cancellation at their suspension points.
type Transport interface {
	// Enumerate lists every device this backend can currently see, in a
	// stable order. Platform-level only: never called with a handle.
	Enumerate(ctx context.Context) ([]DeviceInfo, error)

	// Open acquires exclusive use of the device named by id.
	Open(ctx context.Context, id string) (Handle, Capabilities, error)

	// IsPresent reports whether a card currently sits on h, without
	// blocking for a transition.
	IsPresent(ctx context.Context, h Handle) (bool, error)

	// Wait blocks until a card is detected on h or timeoutMs elapses,
	// whichever comes first; ctx cancellation also unblocks it.
	Wait(ctx context.Context, h Handle, timeoutMs int) error

	// Connect establishes a card-level session on h.
	Connect(ctx context.Context, h Handle) (Card, error)

	// ATR returns the card's answer-to-reset bytes, which may be empty.
	ATR(ctx context.Context, c Card) ([]byte, error)

	// Transmit sends one encoded APDU and returns the full response.
	// Fragmentation across the physical link is the backend's
	// responsibility; callers always see one complete response.
	Transmit(ctx context.Context, c Card, cmd []byte) ([]byte, error)

	// Reset reinitializes the card without necessarily dropping the RF
	// field, per backend policy.
	Reset(ctx context.Context, c Card) error

	// Close releases a card-level handle. Failures are swallowed by
	// callers (spec.md §4.3); backends should still log internally.
	Close(ctx context.Context, c Card) error

	// CloseDevice releases a device-level handle opened by Open.
	CloseDevice(ctx context.Context, h Handle) error
}
