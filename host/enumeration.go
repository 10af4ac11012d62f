package host

import (
	"context"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// Refresh replaces the device snapshot with the HAL's current device list.
// Devices whose registry record lacks string descriptors have them read over
// the default pipe; failures there are logged and otherwise ignored.
func (h *Host) Refresh(ctx context.Context) error {
	if !h.IsRunning() {
		return pkg.ErrNotRunning
	}

	infos, err := h.hal.Devices()
	if err != nil {
		return err
	}

	devices := make([]*Device, 0, len(infos))
	for i, info := range infos {
		dev := &Device{host: h, index: i, info: info}
		h.fillStrings(ctx, dev)
		devices = append(devices, dev)

		pkg.LogDebug(pkg.ComponentHost, "device",
			"index", i,
			"address", info.Address.String(),
			"vendor", info.VendorID,
			"product", info.ProductID,
			"class", info.DeviceClass,
			"ports", info.MaxChild)
	}

	h.mutex.Lock()
	h.devices = devices
	live := make(map[hal.DeviceAddress]bool, len(devices))
	for _, d := range devices {
		live[d.Address()] = true
	}
	for addr := range h.hubs {
		if !live[addr] {
			delete(h.hubs, addr)
		}
	}
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "device snapshot", "count", len(devices))
	return nil
}

// fillStrings reads manufacturer, product and serial strings the HAL did not
// provide.
func (h *Host) fillStrings(ctx context.Context, dev *Device) {
	info := &dev.info
	if info.Manufacturer != "" && info.Product != "" && info.SerialNumber != "" {
		return
	}

	desc, err := dev.ReadDeviceDescriptor(ctx)
	if err != nil {
		pkg.LogDebug(pkg.ComponentHost, "device descriptor read failed",
			"address", info.Address.String(),
			"error", err)
		return
	}

	read := func(dst *string, index uint8, what string) {
		if *dst != "" || index == 0 {
			return
		}
		s, err := dev.ReadString(ctx, index)
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "string descriptor read failed",
				"address", info.Address.String(),
				"string", what,
				"error", err)
			return
		}
		*dst = s
	}
	read(&info.Manufacturer, desc.ManufacturerIndex, "manufacturer")
	read(&info.Product, desc.ProductIndex, "product")
	read(&info.SerialNumber, desc.SerialNumberIndex, "serial")
}
