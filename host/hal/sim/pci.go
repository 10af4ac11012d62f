package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

const (
	pciConfigSize = 256
	ehciClassCode = 0x0C0320
	ehciWindow    = 1024
	ehciCapLength = 0x20
	ehciBAR0      = 0xfebf1000
)

// PCIFunction is an in-memory PCI function with a 256 byte configuration
// space and an optional BAR0 register window.
type PCIFunction struct {
	name     string
	vendorID uint16
	deviceID uint16
	class    uint32

	config [pciConfigSize]byte
	bar0   *Region
	mu     sync.Mutex
}

// NewPCIFunction returns a function with no BAR.
func NewPCIFunction(name string, vendorID, deviceID uint16, class uint32) *PCIFunction {
	f := &PCIFunction{name: name, vendorID: vendorID, deviceID: deviceID, class: class}
	binary.LittleEndian.PutUint16(f.config[0x00:], vendorID)
	binary.LittleEndian.PutUint16(f.config[0x02:], deviceID)
	f.config[0x09] = byte(class)
	f.config[0x0A] = byte(class >> 8)
	f.config[0x0B] = byte(class >> 16)
	return f
}

// NewEHCIFunction returns an EHCI function whose BAR0 window holds a halted
// controller with the port routing flag set.
func NewEHCIFunction(name string, vendorID, deviceID uint16) *PCIFunction {
	f := NewPCIFunction(name, vendorID, deviceID, ehciClassCode)
	binary.LittleEndian.PutUint32(f.config[0x10:], ehciBAR0)
	binary.LittleEndian.PutUint16(f.config[0x04:], 0x0002) // memory space enabled

	r := NewRegion(ehciWindow)
	r.Write32(0x00, 0x01000000|ehciCapLength) // HCIVERSION 1.00
	r.Write32(0x04, 0x00000006)               // HCSPARAMS: 6 ports
	op := uint32(ehciCapLength)
	r.Write32(op+0x00, 0x00080000) // USBCMD: 8 microframe threshold
	r.Write32(op+0x04, 0x00001000) // USBSTS: halted
	r.Write32(op+0x40, 0x00000001) // CONFIGFLAG
	f.bar0 = r
	return f
}

// Name returns the bus address.
func (f *PCIFunction) Name() string { return f.name }

// VendorID returns the PCI vendor ID.
func (f *PCIFunction) VendorID() uint16 { return f.vendorID }

// DeviceID returns the PCI device ID.
func (f *PCIFunction) DeviceID() uint16 { return f.deviceID }

// Class returns the 24-bit class code.
func (f *PCIFunction) Class() uint32 { return f.class }

func checkAccess(offset, size int) error {
	switch size {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: config access size %d", pkg.ErrInvalidParameter, size)
	}
	if offset < 0 || offset+size > pciConfigSize {
		return fmt.Errorf("%w: config offset 0x%x", pkg.ErrInvalidParameter, offset)
	}
	return nil
}

// ReadConfig reads size bytes of configuration space, little-endian.
func (f *PCIFunction) ReadConfig(offset, size int) (uint32, error) {
	if err := checkAccess(offset, size); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(f.config[offset+i]) << (8 * i)
	}
	return v, nil
}

// WriteConfig writes size bytes of configuration space, little-endian.
func (f *PCIFunction) WriteConfig(offset, size int, value uint32) error {
	if err := checkAccess(offset, size); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < size; i++ {
		f.config[offset+i] = byte(value >> (8 * i))
	}
	return nil
}

// MapBAR returns the register window of BAR0. Other BARs are not
// implemented.
func (f *PCIFunction) MapBAR(bar int) (hal.Region, error) {
	if bar != 0 || f.bar0 == nil {
		return nil, fmt.Errorf("%w: %s BAR%d", pkg.ErrNotSupported, f.name, bar)
	}
	return f.bar0, nil
}

// Region is an in-memory register window.
type Region struct {
	mem []uint32
	mu  sync.Mutex
}

// NewRegion returns a zeroed window of size bytes.
func NewRegion(size int) *Region {
	return &Region{mem: make([]uint32, size/4)}
}

// Read32 reads the register at offset. Reads outside the window or not
// 4-byte aligned return all ones.
func (r *Region) Read32(offset uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset%4 != 0 || int(offset/4) >= len(r.mem) {
		return 0xFFFFFFFF
	}
	return r.mem[offset/4]
}

// Write32 writes the register at offset. Writes outside the window are
// dropped.
func (r *Region) Write32(offset uint32, value uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset%4 != 0 || int(offset/4) >= len(r.mem) {
		return
	}
	r.mem[offset/4] = value
}

// Size returns the window length in bytes.
func (r *Region) Size() int { return len(r.mem) * 4 }

// Close is a no-op; the window stays readable for inspection.
func (r *Region) Close() error { return nil }
