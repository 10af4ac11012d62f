//go:build linux

package linux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// writeAttrs creates dir under root and writes each attribute file.
func writeAttrs(t *testing.T, root, dir string, attrs map[string]string) {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, value := range attrs {
		if err := os.WriteFile(filepath.Join(path, name), []byte(value+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// fakeUSBTree builds a sysfs tree with a root hub, an external hub, a mouse
// and one unparsable entry.
func fakeUSBTree(t *testing.T) string {
	root := t.TempDir()
	writeAttrs(t, root, "usb1", map[string]string{
		"busnum": "1", "devnum": "1",
		"idVendor": "1d6b", "idProduct": "0002", "bcdDevice": "0515",
		"bDeviceClass": "09", "bDeviceSubClass": "00", "bDeviceProtocol": "01",
		"manufacturer": "Linux 5.15.0 ehci_hcd", "product": "EHCI Host Controller",
		"serial": "0000:00:1d.7", "speed": "480", "maxchild": "6",
	})
	writeAttrs(t, root, "1-0:1.0", map[string]string{
		"bInterfaceClass": "09", "bInterfaceNumber": "00",
	})
	writeAttrs(t, root, "1-1.2", map[string]string{
		"busnum": "1", "devnum": "5",
		"idVendor": "046d", "idProduct": "c077", "bcdDevice": "7200",
		"bDeviceClass": "00", "speed": "1.5", "maxchild": "0",
		"product": "USB Optical Mouse",
	})
	writeAttrs(t, root, "1-1.2:1.0", map[string]string{
		"bInterfaceClass": "03", "bInterfaceNumber": "00",
	})
	writeAttrs(t, root, "1-1", map[string]string{
		"busnum": "1", "devnum": "3",
		"idVendor": "05e3", "idProduct": "0608",
		"bDeviceClass": "09", "speed": "480", "maxchild": "4",
	})
	writeAttrs(t, root, "1-9", map[string]string{"idVendor": "ffff"})
	return root
}

func TestScanUSBDevices(t *testing.T) {
	root := fakeUSBTree(t)

	devs, err := scanUSBDevices(root)
	if err != nil {
		t.Fatalf("scanUSBDevices: %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("len = %d, want 3 (entry without busnum skipped)", len(devs))
	}

	wantOrder := []hal.DeviceAddress{{Bus: 1, Device: 1}, {Bus: 1, Device: 3}, {Bus: 1, Device: 5}}
	for i, want := range wantOrder {
		if devs[i].Address != want {
			t.Errorf("device %d address = %s, want %s", i, devs[i].Address, want)
		}
	}

	rh := devs[0]
	if rh.Path != "usb1" || rh.DeviceClass != 0x09 || rh.DeviceProtocol != 1 || rh.MaxChild != 6 {
		t.Errorf("root hub = %+v", rh)
	}
	if rh.VendorID != 0x1d6b || rh.ProductID != 0x0002 || rh.DeviceVersion != 0x0515 {
		t.Errorf("root hub ids = %04x:%04x %04x", rh.VendorID, rh.ProductID, rh.DeviceVersion)
	}
	if rh.InterfaceClass != 0x09 {
		t.Errorf("root hub interface class = %d, want 9", rh.InterfaceClass)
	}
	if rh.Speed != hal.SpeedHigh || rh.SerialNumber != "0000:00:1d.7" {
		t.Errorf("root hub speed=%v serial=%q", rh.Speed, rh.SerialNumber)
	}

	mouse := devs[2]
	if mouse.InterfaceClass != 0x03 || mouse.Speed != hal.SpeedLow || mouse.Product != "USB Optical Mouse" {
		t.Errorf("mouse = %+v", mouse)
	}
	if mouse.Manufacturer != "" {
		t.Errorf("missing manufacturer read as %q", mouse.Manufacturer)
	}
}

func TestScanUSBDevices_MissingRoot(t *testing.T) {
	if _, err := scanUSBDevices(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestHostHAL_Devices(t *testing.T) {
	h := NewHostHAL(Config{SysfsUSB: fakeUSBTree(t), DevfsUSB: t.TempDir()})

	if _, err := h.Devices(); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Devices before Init error = %v, want ErrNotRunning", err)
	}
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer h.Close()

	if err := h.Init(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Init error = %v, want ErrAlreadyRunning", err)
	}

	devs, err := h.Devices()
	if err != nil || len(devs) != 3 {
		t.Fatalf("Devices() = %d, %v", len(devs), err)
	}
}

func TestHostHAL_InitMissingSysfs(t *testing.T) {
	h := NewHostHAL(Config{SysfsUSB: filepath.Join(t.TempDir(), "missing")})
	if err := h.Init(context.Background()); err == nil {
		t.Error("Init succeeded without sysfs")
	}
}

func TestHostHAL_ControlTransferMissingNode(t *testing.T) {
	h := NewHostHAL(Config{SysfsUSB: fakeUSBTree(t), DevfsUSB: t.TempDir()})
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer h.Close()

	setup := hal.SetupPacket{RequestType: 0xA3, Request: 0, Index: 1, Length: 4}
	_, err := h.ControlTransfer(context.Background(), hal.DeviceAddress{Bus: 1, Device: 1}, &setup, make([]byte, 4))
	if !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("error = %v, want ErrNoDevice", err)
	}
}

func TestNewHostHAL_Defaults(t *testing.T) {
	h := NewHostHAL(Config{})
	if h.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want %+v", h.cfg, DefaultConfig())
	}
}

func TestDevfsPath(t *testing.T) {
	tests := []struct {
		addr     hal.DeviceAddress
		expected string
	}{
		{hal.DeviceAddress{Bus: 1, Device: 1}, "/dev/bus/usb/001/001"},
		{hal.DeviceAddress{Bus: 1, Device: 123}, "/dev/bus/usb/001/123"},
		{hal.DeviceAddress{Bus: 12, Device: 34}, "/dev/bus/usb/012/034"},
		{hal.DeviceAddress{Bus: 255, Device: 255}, "/dev/bus/usb/255/255"},
	}

	for _, tt := range tests {
		if got := devfsPath(DevfsUSBPath, tt.addr); got != tt.expected {
			t.Errorf("devfsPath(%s) = %q, want %q", tt.addr, got, tt.expected)
		}
	}
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		input    string
		expected hal.Speed
	}{
		{"1.5", hal.SpeedLow},
		{"12", hal.SpeedFull},
		{"480", hal.SpeedHigh},
		{"5000", hal.SpeedSuper},
		{"10000", hal.SpeedSuper},
		{"", hal.SpeedUnknown},
		{"invalid", hal.SpeedUnknown},
	}

	for _, tt := range tests {
		if got := parseSpeed(tt.input); got != tt.expected {
			t.Errorf("parseSpeed(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
