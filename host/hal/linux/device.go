//go:build linux

package linux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// MaxInterfacesPerDevice bounds the interface numbers that may be claimed.
const MaxInterfacesPerDevice = 32

// deviceConn is an open usbfs node. Transfers on one connection are
// serialised by mu.
type deviceConn struct {
	fd      int
	path    string
	address hal.DeviceAddress

	// Interfaces claimed through this connection, and those whose kernel
	// driver was detached to claim them.
	claimed  uint32
	detached uint32

	mu sync.Mutex
}

// openDeviceConn opens the usbfs node at path read/write.
func openDeviceConn(path string, addr hal.DeviceAddress) (*deviceConn, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, mapErrno(err))
	}
	return &deviceConn{fd: fd, path: path, address: addr}, nil
}

// close releases claimed interfaces, rebinds detached kernel drivers and
// closes the node.
func (d *deviceConn) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := uint8(0); i < MaxInterfacesPerDevice; i++ {
		mask := uint32(1) << i
		if d.claimed&mask != 0 {
			_ = releaseInterface(d.fd, i)
		}
		if d.detached&mask != 0 {
			if err := connectDriver(d.fd, i); err != nil {
				pkg.LogDebug(pkg.ComponentHAL, "driver reconnect failed",
					"address", d.address.String(),
					"interface", i,
					"error", err)
			}
		}
	}
	d.claimed, d.detached = 0, 0

	return unix.Close(d.fd)
}

// claim detaches any kernel driver from iface and claims it.
func (d *deviceConn) claim(iface uint8) error {
	if iface >= MaxInterfacesPerDevice {
		return fmt.Errorf("%w: interface %d", pkg.ErrInvalidParameter, iface)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	mask := uint32(1) << iface
	if d.claimed&mask != 0 {
		return nil
	}

	if err := disconnectDriver(d.fd, iface); err != nil {
		return mapErrno(err)
	}
	d.detached |= mask

	if err := claimInterface(d.fd, iface); err != nil {
		return mapErrno(err)
	}
	d.claimed |= mask
	return nil
}

// release releases iface and rebinds its kernel driver if one was detached.
func (d *deviceConn) release(iface uint8) error {
	if iface >= MaxInterfacesPerDevice {
		return fmt.Errorf("%w: interface %d", pkg.ErrInvalidParameter, iface)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	mask := uint32(1) << iface
	if d.claimed&mask == 0 {
		return nil
	}
	if err := releaseInterface(d.fd, iface); err != nil {
		return mapErrno(err)
	}
	d.claimed &^= mask

	if d.detached&mask != 0 {
		d.detached &^= mask
		if err := connectDriver(d.fd, iface); err != nil {
			return mapErrno(err)
		}
	}
	return nil
}

// control performs a control transfer on endpoint 0.
func (d *deviceConn) control(ctx context.Context, setup *hal.SetupPacket, data []byte, def time.Duration) (int, error) {
	timeout, err := transferTimeout(ctx, def)
	if err != nil {
		return 0, err
	}
	if int(setup.Length) < len(data) {
		data = data[:setup.Length]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := doControlTransfer(d.fd, setup.RequestType, setup.Request,
		setup.Value, setup.Index, data, timeout)
	if err != nil {
		return 0, mapErrno(err)
	}
	return n, nil
}

// interrupt performs an interrupt transfer on endpoint.
func (d *deviceConn) interrupt(ctx context.Context, endpoint uint8, data []byte, def time.Duration) (int, error) {
	timeout, err := transferTimeout(ctx, def)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := doBulkTransfer(d.fd, endpoint, data, timeout)
	if err != nil {
		return 0, mapErrno(err)
	}
	return n, nil
}

// transferTimeout derives a usbfs timeout from ctx, falling back to def when
// ctx has no deadline.
func transferTimeout(ctx context.Context, def time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return def, nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, context.DeadlineExceeded
	}
	return remaining, nil
}
