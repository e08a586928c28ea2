// Package client implements the connection-side mirror of the signaling
// protocol: a capability device, a send transport driven by
// callback-style round-trips with bounded timeouts, and a lazily created
// shared receive transport reacting to newProducer pushes.
package client

import (
	"errors"
	"sync"

	"github.com/nhan2892005/study-space-media/internal/media"
)

var ErrDeviceNotLoaded = errors.New("device not loaded")

// Device holds the local capability negotiator. Load is re-entrant: it
// must happen exactly once per room membership and further calls are
// no-ops while loaded.
type Device struct {
	local media.RtpCapabilities

	mu     sync.Mutex
	loaded bool
	caps   media.RtpCapabilities
}

// NewDevice builds a device around what the local hardware can encode
// and decode. Zero-value capabilities mean "everything in the default
// table".
func NewDevice(local media.RtpCapabilities) *Device {
	if len(local.Codecs) == 0 {
		local = media.DefaultCapabilities()
	}
	return &Device{local: local}
}

// Load intersects the router's codec table with the local one.
func (d *Device) Load(router media.RtpCapabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return
	}
	d.caps = d.local.Intersect(router)
	d.loaded = true
}

// Reset clears the loaded state when a room membership ends.
func (d *Device) Reset() {
	d.mu.Lock()
	d.loaded = false
	d.caps = media.RtpCapabilities{}
	d.mu.Unlock()
}

func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *Device) CanProduce(kind media.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded && d.caps.HasKind(kind)
}

func (d *Device) RtpCapabilities() media.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}
