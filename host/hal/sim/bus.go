package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// device is one simulated function on the bus.
type device interface {
	info() hal.DeviceInfo
	control(setup *hal.SetupPacket, data []byte) (int, error)
	interrupt(ctx context.Context, endpoint uint8, data []byte) (int, error)
}

// Bus is an in-memory bus. It is safe for concurrent use; transfers to one
// device are serialised.
type Bus struct {
	devices []device
	claimed map[hal.DeviceAddress]map[uint8]bool
	next    uint8
	running bool
	mu      sync.Mutex
}

// New returns an empty bus. Devices get addresses 001:001, 001:002, ... in
// the order they are added.
func New() *Bus {
	return &Bus{
		claimed: make(map[hal.DeviceAddress]map[uint8]bool),
		next:    1,
	}
}

func (b *Bus) allocate() hal.DeviceAddress {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := hal.DeviceAddress{Bus: 1, Device: b.next}
	b.next++
	return addr
}

func (b *Bus) add(d device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, d)
}

// Init marks the bus running.
func (b *Bus) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return pkg.ErrAlreadyRunning
	}
	b.running = true
	pkg.LogDebug(pkg.ComponentHAL, "simulated bus initialized", "devices", len(b.devices))
	return nil
}

// Close marks the bus stopped and drops interface claims.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.claimed = make(map[hal.DeviceAddress]map[uint8]bool)
	return nil
}

// Devices returns the attached devices in address order.
func (b *Bus) Devices() ([]hal.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil, pkg.ErrNotRunning
	}
	out := make([]hal.DeviceInfo, 0, len(b.devices))
	for _, d := range b.devices {
		out = append(out, d.info())
	}
	return out, nil
}

func (b *Bus) lookup(addr hal.DeviceAddress) (device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil, pkg.ErrNotRunning
	}
	for _, d := range b.devices {
		if d.info().Address == addr {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", pkg.ErrNoDevice, addr)
}

// ControlTransfer routes a control transfer to the addressed device.
func (b *Bus) ControlTransfer(ctx context.Context, addr hal.DeviceAddress, setup *hal.SetupPacket, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d, err := b.lookup(addr)
	if err != nil {
		return 0, err
	}
	if int(setup.Length) < len(data) {
		data = data[:setup.Length]
	}
	pkg.LogDebug(pkg.ComponentHAL, "sim control transfer",
		"addr", addr.String(),
		"in", setup.IsIn(),
		"request", fmt.Sprintf("0x%02x/0x%02x", setup.RequestType, setup.Request),
		"value", setup.Value,
		"index", setup.Index)
	return d.control(setup, data)
}

// InterruptTransfer routes an interrupt transfer to the addressed device.
// The owning interface must be claimed.
func (b *Bus) InterruptTransfer(ctx context.Context, addr hal.DeviceAddress, endpoint uint8, data []byte) (int, error) {
	d, err := b.lookup(addr)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	claimed := len(b.claimed[addr]) > 0
	b.mu.Unlock()
	if !claimed {
		return 0, fmt.Errorf("%w: no claimed interface on %s", pkg.ErrBusy, addr)
	}
	return d.interrupt(ctx, endpoint, data)
}

// ClaimInterface records a claim on iface.
func (b *Bus) ClaimInterface(addr hal.DeviceAddress, iface uint8) error {
	if _, err := b.lookup(addr); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimed[addr] == nil {
		b.claimed[addr] = make(map[uint8]bool)
	}
	b.claimed[addr][iface] = true
	return nil
}

// ReleaseInterface drops a claim on iface.
func (b *Bus) ReleaseInterface(addr hal.DeviceAddress, iface uint8) error {
	if _, err := b.lookup(addr); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.claimed[addr], iface)
	return nil
}

// Ensure Bus implements hal.HostHAL
var _ hal.HostHAL = (*Bus)(nil)
