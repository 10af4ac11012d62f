package hal

import (
	"context"
	"fmt"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants.
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
	SpeedSuper                // SuperSpeed (5 Gbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	case SpeedSuper:
		return "Super Speed"
	default:
		return "Unknown"
	}
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// IsIn reports whether the data stage flows device to host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// DeviceAddress identifies a device by bus and device number.
type DeviceAddress struct {
	Bus    uint8
	Device uint8
}

// String returns the address in lsusb style ("001:004").
func (a DeviceAddress) String() string {
	return fmt.Sprintf("%03d:%03d", a.Bus, a.Device)
}

// DeviceInfo is the registry view of one attached device.
type DeviceInfo struct {
	Address DeviceAddress
	Path    string // Topology name, e.g. "1-1.2"
	Speed   Speed

	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8
	VendorID       uint16
	ProductID      uint16
	DeviceVersion  uint16 // bcdDevice

	// First interface of the active configuration.
	InterfaceClass  uint8
	InterfaceNumber uint8

	Manufacturer string
	Product      string
	SerialNumber string

	// MaxChild is the number of downstream ports; zero for non-hubs.
	MaxChild int
}

// HostHAL defines the Hardware Abstraction Layer interface used by usbdiag.
//
// All transfer methods block until the transfer completes, fails or the
// context is cancelled. Implementations must be safe for concurrent use.
type HostHAL interface {
	// Init prepares the HAL for use.
	Init(ctx context.Context) error

	// Close releases all resources associated with the HAL.
	Close() error

	// Devices returns a snapshot of attached devices in a stable order.
	Devices() ([]DeviceInfo, error)

	// ControlTransfer performs a control transfer on the default pipe.
	// For OUT transfers, data contains the data to send.
	// For IN transfers, data is filled with received data.
	// Returns the number of bytes transferred in the data phase.
	ControlTransfer(ctx context.Context, addr DeviceAddress, setup *SetupPacket, data []byte) (int, error)

	// InterruptTransfer performs an interrupt transfer to/from an endpoint.
	// Returns the number of bytes transferred.
	InterruptTransfer(ctx context.Context, addr DeviceAddress, endpoint uint8, data []byte) (int, error)

	// ClaimInterface claims exclusive access to an interface, detaching any
	// kernel driver first.
	ClaimInterface(addr DeviceAddress, iface uint8) error

	// ReleaseInterface releases a previously claimed interface.
	ReleaseInterface(addr DeviceAddress, iface uint8) error
}

// Region is a memory-mapped window of device registers, such as a PCI BAR.
// Accesses outside the window read as all ones and are dropped on write.
type Region interface {
	// Read32 reads the 32-bit register at offset.
	Read32(offset uint32) uint32

	// Write32 writes the 32-bit register at offset.
	Write32(offset uint32, value uint32)

	// Size returns the window length in bytes.
	Size() int

	// Close unmaps the window.
	Close() error
}
