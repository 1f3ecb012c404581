// Package platformmgr implements PlatformManager (spec.md §4.9): a
// process-wide, lazily-constructed Platform singleton. Applications
// configure a transport factory once (typically in main), then every
// caller of GetPlatform observes the same instance.
package platformmgr

import (
	"sync"

	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/event"
	"github.com/gregLibert/cardkit/pkg/platform"
	"github.com/gregLibert/cardkit/pkg/transport"
)

// Factory builds the transport.Transport the singleton Platform will run
// over. GetPlatform invokes it until one call succeeds; after that the
// Platform built from it is reused and the factory is not called again.
type Factory func() (transport.Transport, error)

var (
	mu       sync.Mutex
	instance *platform.Platform
	factory  Factory
	bus      *event.Bus
)

// Configure sets the transport factory and event bus used to construct
// the singleton. Must be called before the first GetPlatform, typically
// once at process startup; later calls have no effect on an
// already-constructed instance.
func Configure(f Factory, b *event.Bus) {
	mu.Lock()
	defer mu.Unlock()
	factory = f
	bus = b
}

// GetPlatform returns the process-wide Platform, constructing it on the
// first call via the configured Factory. Concurrent callers observe the
// same instance.
func GetPlatform() (*platform.Platform, error) {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return instance, nil
	}
	if factory == nil {
		return nil, cardkiterr.New(cardkiterr.PlatformError, "platformmgr: no transport factory configured")
	}
	tr, err := factory()
	if err != nil {
		return nil, err
	}
	instance = platform.New(tr, bus)
	return instance, nil
}

// ResetForTest discards the singleton instance and configuration so tests
// can exercise GetPlatform's construction path repeatedly. Not for
// production use.
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	factory = nil
	bus = nil
}
