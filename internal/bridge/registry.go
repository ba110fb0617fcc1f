package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// DeviceLoader supplies the full device inventory from the hub.
// Implemented by the hub session.
type DeviceLoader interface {
	LoadDevices(ctx context.Context) ([]Device, error)
}

// Registry maps hub identifiers and topic slugs to devices.
//
// Lookups read an immutable snapshot through an atomic pointer, so
// they never block and never observe a half-loaded inventory. Load
// builds a complete replacement snapshot and swaps it in one step; on
// any error the previous snapshot stays authoritative.
type Registry struct {
	loader   DeviceLoader
	loaderMu sync.Mutex
	snapshot atomic.Pointer[registrySnapshot]
}

type registrySnapshot struct {
	devices []Device

	byZone    map[string]zoneRef
	byCommand map[commandKey]zoneRef
	byButton  map[string]buttonRef
}

type zoneRef struct {
	device  *Device
	channel Channel
}

type buttonRef struct {
	device *Device
	button Button
}

type commandKey struct {
	area    string
	device  string
	channel string
}

// NewRegistry returns a registry with an empty snapshot. Lookups fail
// with ErrNotFound until the first successful Load.
func NewRegistry(loader DeviceLoader) *Registry {
	r := &Registry{loader: loader}
	r.snapshot.Store(buildSnapshot(nil))
	return r
}

// SetLoader replaces the loader. The supervisor points the registry at
// each fresh hub session before reloading.
func (r *Registry) SetLoader(loader DeviceLoader) {
	r.loaderMu.Lock()
	r.loader = loader
	r.loaderMu.Unlock()
}

// Load fetches the device inventory and atomically replaces the
// snapshot. Full or fail: any loader error leaves the old snapshot in
// place and returns an error matching ErrRegistryLoad.
func (r *Registry) Load(ctx context.Context) error {
	r.loaderMu.Lock()
	loader := r.loader
	r.loaderMu.Unlock()

	if loader == nil {
		return fmt.Errorf("%w: no loader configured", ErrRegistryLoad)
	}

	devices, err := loader.LoadDevices(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistryLoad, err)
	}

	r.snapshot.Store(buildSnapshot(devices))
	return nil
}

func buildSnapshot(devices []Device) *registrySnapshot {
	snap := &registrySnapshot{
		devices:   devices,
		byZone:    make(map[string]zoneRef),
		byCommand: make(map[commandKey]zoneRef),
		byButton:  make(map[string]buttonRef),
	}

	for i := range devices {
		device := &devices[i]
		for _, channel := range device.Channels {
			ref := zoneRef{device: device, channel: channel}
			snap.byZone[channel.ZoneID] = ref
			snap.byCommand[commandKey{
				area:    device.AreaSlug,
				device:  device.NameSlug,
				channel: channel.Slug,
			}] = ref
		}
		for _, button := range device.Buttons {
			snap.byButton[button.ID] = buttonRef{device: device, button: button}
		}
	}

	return snap
}

// LookupZone resolves a hub zone ID to its device and channel.
func (r *Registry) LookupZone(zoneID string) (*Device, Channel, error) {
	ref, ok := r.snapshot.Load().byZone[zoneID]
	if !ok {
		return nil, Channel{}, fmt.Errorf("%w: zone %s", ErrNotFound, zoneID)
	}
	return ref.device, ref.channel, nil
}

// LookupCommand resolves command topic slugs to a device and channel.
func (r *Registry) LookupCommand(area, device, channel string) (*Device, Channel, error) {
	ref, ok := r.snapshot.Load().byCommand[commandKey{area: area, device: device, channel: channel}]
	if !ok {
		return nil, Channel{}, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, area, device, channel)
	}
	return ref.device, ref.channel, nil
}

// LookupButton resolves a hub button ID to its remote and button.
func (r *Registry) LookupButton(buttonID string) (*Device, Button, error) {
	ref, ok := r.snapshot.Load().byButton[buttonID]
	if !ok {
		return nil, Button{}, fmt.Errorf("%w: button %s", ErrNotFound, buttonID)
	}
	return ref.device, ref.button, nil
}

// Devices returns the devices in the current snapshot. The returned
// slice must not be modified.
func (r *Registry) Devices() []Device {
	return r.snapshot.Load().devices
}

// Len returns the number of devices in the current snapshot.
func (r *Registry) Len() int {
	return len(r.snapshot.Load().devices)
}

// Zones returns the zone IDs known to the current snapshot.
func (r *Registry) Zones() []string {
	snap := r.snapshot.Load()
	zones := make([]string, 0, len(snap.byZone))
	for zoneID := range snap.byZone {
		zones = append(zones, zoneID)
	}
	return zones
}
