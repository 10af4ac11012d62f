package linux

import "time"

// Default filesystem roots. Each may be overridden in Config for tests or
// chroots.
const (
	SysfsUSBPath = "/sys/bus/usb/devices"
	SysfsPCIPath = "/sys/bus/pci/devices"
	DevfsUSBPath = "/dev/bus/usb"
)

// DefaultTransferTimeout bounds a usbfs transfer when the context carries no
// deadline.
const DefaultTransferTimeout = 5 * time.Second

// MaxControlTransferSize is the largest data phase usbfs accepts for a
// control transfer.
const MaxControlTransferSize = 4096

// EHCIClassCode is the PCI class code of an EHCI controller (serial bus,
// USB, EHCI programming interface).
const EHCIClassCode = 0x0C0320
