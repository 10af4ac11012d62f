//go:build linux

package linux

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// =============================================================================
// HostHAL Implementation
// =============================================================================

// Config locates the sysfs and usbfs trees.
type Config struct {
	SysfsUSB string // default SysfsUSBPath
	SysfsPCI string // default SysfsPCIPath
	DevfsUSB string // default DevfsUSBPath

	// TransferTimeout applies when a context has no deadline.
	TransferTimeout time.Duration
}

// DefaultConfig returns the standard Linux paths.
func DefaultConfig() Config {
	return Config{
		SysfsUSB:        SysfsUSBPath,
		SysfsPCI:        SysfsPCIPath,
		DevfsUSB:        DevfsUSBPath,
		TransferTimeout: DefaultTransferTimeout,
	}
}

// HostHAL implements the hal.HostHAL interface for Linux using sysfs for
// discovery and usbfs for transfers.
type HostHAL struct {
	cfg Config

	// Open usbfs nodes, opened on first use.
	conns map[hal.DeviceAddress]*deviceConn

	running bool
	mu      sync.Mutex
}

// NewHostHAL creates a new Linux host HAL. Empty fields of cfg take their
// defaults.
func NewHostHAL(cfg Config) *HostHAL {
	def := DefaultConfig()
	if cfg.SysfsUSB == "" {
		cfg.SysfsUSB = def.SysfsUSB
	}
	if cfg.SysfsPCI == "" {
		cfg.SysfsPCI = def.SysfsPCI
	}
	if cfg.DevfsUSB == "" {
		cfg.DevfsUSB = def.DevfsUSB
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = def.TransferTimeout
	}
	return &HostHAL{
		cfg:   cfg,
		conns: make(map[hal.DeviceAddress]*deviceConn),
	}
}

// =============================================================================
// Lifecycle Methods
// =============================================================================

// Init checks that the sysfs USB tree is readable.
func (h *HostHAL) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return pkg.ErrAlreadyRunning
	}
	if _, err := os.Stat(h.cfg.SysfsUSB); err != nil {
		return err
	}
	h.running = true

	pkg.LogDebug(pkg.ComponentHAL, "Linux host HAL initialized",
		"sysfs", h.cfg.SysfsUSB,
		"devfs", h.cfg.DevfsUSB)
	return nil
}

// Close closes every open device node.
func (h *HostHAL) Close() error {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[hal.DeviceAddress]*deviceConn)
	h.running = false
	h.mu.Unlock()

	var first error
	for addr, c := range conns {
		if err := c.close(); err != nil {
			pkg.LogDebug(pkg.ComponentHAL, "device close failed",
				"address", addr.String(),
				"error", err)
			if first == nil {
				first = err
			}
		}
	}

	pkg.LogDebug(pkg.ComponentHAL, "Linux host HAL closed")
	return first
}

// Devices scans sysfs for attached devices.
func (h *HostHAL) Devices() ([]hal.DeviceInfo, error) {
	if !h.isRunning() {
		return nil, pkg.ErrNotRunning
	}
	return scanUSBDevices(h.cfg.SysfsUSB)
}

// PCIFunctions lists the PCI functions under the configured sysfs tree.
func (h *HostHAL) PCIFunctions() ([]*PCIFunction, error) {
	return ScanPCI(h.cfg.SysfsPCI)
}

// =============================================================================
// Transfer Methods
// =============================================================================

// ControlTransfer performs a control transfer through usbfs.
func (h *HostHAL) ControlTransfer(ctx context.Context, addr hal.DeviceAddress, setup *hal.SetupPacket, data []byte) (int, error) {
	conn, err := h.conn(addr)
	if err != nil {
		return 0, err
	}
	n, err := conn.control(ctx, setup, data, h.cfg.TransferTimeout)
	if err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "control transfer failed",
			"address", addr.String(),
			"requestType", setup.RequestType,
			"request", setup.Request,
			"value", setup.Value,
			"index", setup.Index,
			"error", err)
		h.dropOnNoDevice(addr, err)
	}
	return n, err
}

// InterruptTransfer performs an interrupt transfer through usbfs. The
// interface owning endpoint must have been claimed.
func (h *HostHAL) InterruptTransfer(ctx context.Context, addr hal.DeviceAddress, endpoint uint8, data []byte) (int, error) {
	conn, err := h.conn(addr)
	if err != nil {
		return 0, err
	}
	n, err := conn.interrupt(ctx, endpoint, data, h.cfg.TransferTimeout)
	if err != nil {
		h.dropOnNoDevice(addr, err)
	}
	return n, err
}

// ClaimInterface detaches the kernel driver from iface and claims it.
func (h *HostHAL) ClaimInterface(addr hal.DeviceAddress, iface uint8) error {
	conn, err := h.conn(addr)
	if err != nil {
		return err
	}
	return conn.claim(iface)
}

// ReleaseInterface releases iface and reattaches the kernel driver.
func (h *HostHAL) ReleaseInterface(addr hal.DeviceAddress, iface uint8) error {
	conn, err := h.conn(addr)
	if err != nil {
		return err
	}
	return conn.release(iface)
}

// ResetDevice issues USBDEVFS_RESET to a device.
func (h *HostHAL) ResetDevice(addr hal.DeviceAddress) error {
	conn, err := h.conn(addr)
	if err != nil {
		return err
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := resetDevice(conn.fd); err != nil {
		return mapErrno(err)
	}
	return nil
}

// =============================================================================
// Connection Pool
// =============================================================================

func (h *HostHAL) isRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// conn returns the open node for addr, opening it on first use.
func (h *HostHAL) conn(addr hal.DeviceAddress) (*deviceConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil, pkg.ErrNotRunning
	}
	if c, ok := h.conns[addr]; ok {
		return c, nil
	}
	c, err := openDeviceConn(devfsPath(h.cfg.DevfsUSB, addr), addr)
	if err != nil {
		return nil, err
	}
	h.conns[addr] = c
	return c, nil
}

// dropOnNoDevice forgets the node of a device that went away, so a new
// device reusing the address gets a fresh node.
func (h *HostHAL) dropOnNoDevice(addr hal.DeviceAddress, err error) {
	if !isNoDevice(err) {
		return
	}
	h.mu.Lock()
	c, ok := h.conns[addr]
	delete(h.conns, addr)
	h.mu.Unlock()
	if ok {
		_ = c.close()
	}
	pkg.LogInfo(pkg.ComponentHAL, "device disconnected", "address", addr.String())
}

// Ensure HostHAL implements hal.HostHAL
var _ hal.HostHAL = (*HostHAL)(nil)
