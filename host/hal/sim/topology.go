package sim

import (
	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/host/hub"
)

// Topology is the bus built by Default with handles to its devices.
type Topology struct {
	*Bus

	Root     *Hub
	External *Hub
	Mouse    *Mouse
	Storage  *Device

	// PCI holds a host bridge and the EHCI function behind Root.
	PCI []*PCIFunction
}

// Default returns an EHCI root hub of six ports, an external four-port hub
// on root port 1, a boot mouse on hub port 2 and a mass storage device on
// root port 3. Root port 5 has a device attached that never enables on
// reset.
func Default() *Topology {
	b := New()
	t := &Topology{Bus: b}

	t.Root = b.AddHub(DeviceConfig{
		VendorID:      0x1d6b,
		ProductID:     0x0002,
		DeviceVersion: 0x0515,
		Manufacturer:  "Linux 5.15.0 ehci_hcd",
		Product:       "EHCI Host Controller",
		Serial:        "0000:00:1d.7",
	}, 6)

	t.External = b.AddHub(DeviceConfig{
		VendorID:      0x05e3,
		ProductID:     0x0608,
		DeviceVersion: 0x6060,
		Product:       "USB2.0 Hub",
	}, 4)

	t.Mouse = b.AddMouse(DeviceConfig{
		VendorID:      0x046d,
		ProductID:     0xc077,
		DeviceVersion: 0x7200,
		Manufacturer:  "Logitech",
		Product:       "USB Optical Mouse",
	})

	t.Storage = b.AddDevice(DeviceConfig{
		VendorID:          0x0781,
		ProductID:         0x5567,
		DeviceVersion:     0x0100,
		Speed:             hal.SpeedHigh,
		InterfaceClass:    0x08,
		InterfaceSubClass: 0x06,
		InterfaceProtocol: 0x50,
		Manufacturer:      "SanDisk",
		Product:           "Cruzer Blade",
		Serial:            "4C530001230101117352",
	})

	// Errors are impossible for in-range ports.
	_ = t.Root.Connect(1, hal.SpeedHigh)
	_ = t.Root.Connect(3, hal.SpeedHigh)
	_ = t.Root.Connect(5, hal.SpeedFull)
	_ = t.Root.SetResetMode(5, ResetNeverEnables)
	enable(t.Root, 1, 3)

	_ = t.External.Connect(2, hal.SpeedLow)
	enable(t.External, 2)

	t.PCI = []*PCIFunction{
		NewPCIFunction("0000:00:00.0", 0x8086, 0x29c0, 0x060000),
		NewEHCIFunction("0000:00:1d.7", 0x8086, 0x293a),
	}
	return t
}

// enable marks ports enabled with no pending changes, as if the kernel had
// already reset them.
func enable(h *Hub, ports ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range ports {
		p := &h.ports[n-1]
		p.status |= hub.StatusEnable
		p.change = 0
	}
}
