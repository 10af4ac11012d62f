//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ardnew/usbdiag/host/hal"
)

// =============================================================================
// USB Device Scan
// =============================================================================

// scanUSBDevices reads every USB device under root, root hubs included, and
// returns them ordered by bus and device number.
func scanUSBDevices(root string) ([]hal.DeviceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []hal.DeviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Interface entries look like "1-1:1.0".
		if strings.Contains(name, ":") {
			continue
		}

		info, err := parseUSBDevice(root, name)
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}

	sort.Slice(devices, func(i, j int) bool {
		a, b := devices[i].Address, devices[j].Address
		if a.Bus != b.Bus {
			return a.Bus < b.Bus
		}
		return a.Device < b.Device
	})
	return devices, nil
}

// parseUSBDevice reads the attributes of one device directory. Only busnum
// and devnum are required.
func parseUSBDevice(root, name string) (hal.DeviceInfo, error) {
	dir := filepath.Join(root, name)
	info := hal.DeviceInfo{Path: name}

	bus, err := readSysfsUint(filepath.Join(dir, "busnum"), 8)
	if err != nil {
		return info, err
	}
	dev, err := readSysfsUint(filepath.Join(dir, "devnum"), 8)
	if err != nil {
		return info, err
	}
	info.Address = hal.DeviceAddress{Bus: uint8(bus), Device: uint8(dev)}

	info.VendorID = uint16(readSysfsHexOr(filepath.Join(dir, "idVendor"), 16))
	info.ProductID = uint16(readSysfsHexOr(filepath.Join(dir, "idProduct"), 16))
	info.DeviceVersion = uint16(readSysfsHexOr(filepath.Join(dir, "bcdDevice"), 16))
	info.DeviceClass = uint8(readSysfsHexOr(filepath.Join(dir, "bDeviceClass"), 8))
	info.DeviceSubClass = uint8(readSysfsHexOr(filepath.Join(dir, "bDeviceSubClass"), 8))
	info.DeviceProtocol = uint8(readSysfsHexOr(filepath.Join(dir, "bDeviceProtocol"), 8))

	info.Manufacturer, _ = readSysfsString(filepath.Join(dir, "manufacturer"))
	info.Product, _ = readSysfsString(filepath.Join(dir, "product"))
	info.SerialNumber, _ = readSysfsString(filepath.Join(dir, "serial"))

	if speed, err := readSysfsString(filepath.Join(dir, "speed")); err == nil {
		info.Speed = parseSpeed(speed)
	}
	if n, err := readSysfsUint(filepath.Join(dir, "maxchild"), 16); err == nil {
		info.MaxChild = int(n)
	}

	if iface, ok := firstInterface(root, name); ok {
		info.InterfaceClass = uint8(readSysfsHexOr(filepath.Join(root, iface, "bInterfaceClass"), 8))
		info.InterfaceNumber = uint8(readSysfsHexOr(filepath.Join(root, iface, "bInterfaceNumber"), 8))
	}

	return info, nil
}

// firstInterface returns the lowest-sorted interface entry ("1-1:1.0") of
// the device called name. Root hub "usbN" interfaces are named "N-0:...".
func firstInterface(root, name string) (string, bool) {
	prefix := name
	if bus, ok := strings.CutPrefix(name, "usb"); ok {
		prefix = bus + "-0"
	}
	matches, err := filepath.Glob(filepath.Join(root, prefix+":*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return filepath.Base(matches[0]), true
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readSysfsUint reads an unsigned decimal integer from a sysfs attribute file.
func readSysfsUint(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, bitSize)
}

// readSysfsHex reads a hexadecimal value, with or without a 0x prefix.
func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, bitSize)
}

// readSysfsHexOr is readSysfsHex with missing or malformed attributes read
// as zero.
func readSysfsHexOr(path string, bitSize int) uint64 {
	v, err := readSysfsHex(path, bitSize)
	if err != nil {
		return 0
	}
	return v
}

// =============================================================================
// Path Helpers
// =============================================================================

// devfsPath returns the usbfs node of a device, e.g. /dev/bus/usb/001/004.
func devfsPath(root string, addr hal.DeviceAddress) string {
	return filepath.Join(root, fmt.Sprintf("%03d", addr.Bus), fmt.Sprintf("%03d", addr.Device))
}

// parseSpeed converts a sysfs speed string (Mbit/s) to a hal.Speed value.
func parseSpeed(s string) hal.Speed {
	switch s {
	case "1.5":
		return hal.SpeedLow
	case "12":
		return hal.SpeedFull
	case "480":
		return hal.SpeedHigh
	case "5000", "10000", "20000":
		return hal.SpeedSuper
	default:
		return hal.SpeedUnknown
	}
}
