// Package linux provides a USB host HAL implementation for Linux using usbfs.
//
// Devices are discovered by reading sysfs (/sys/bus/usb/devices/) each time
// the registry asks for a snapshot; root hubs are included so their ports can
// be inspected. Transfers are synchronous usbfs ioctls on /dev/bus/usb/BBB/DDD
// issued through golang.org/x/sys/unix, with no cgo.
//
// # Requirements
//
// Reading and resetting hub ports needs read/write access to the usbfs nodes,
// which typically means running as root or installing a udev rule. Mapping an
// EHCI register BAR through /sys/bus/pci/devices/*/resource0 always needs
// root.
//
// # Supported Features
//
//   - Control transfers with per-context timeouts
//   - Interrupt transfers (USBDEVFS_BULK on an interrupt endpoint)
//   - Interface claiming with kernel driver detachment and reattachment
//   - Whole-device reset (USBDEVFS_RESET)
//   - PCI function enumeration, configuration space access and BAR mapping
package linux
