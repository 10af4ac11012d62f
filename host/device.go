package host

import (
	"context"
	"fmt"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// Device is one attached USB device as seen through the registry.
type Device struct {
	host  *Host
	index int
	info  hal.DeviceInfo
}

// Index returns the device's position in the registry snapshot.
func (d *Device) Index() int {
	return d.index
}

// Info returns the registry record for the device.
func (d *Device) Info() hal.DeviceInfo {
	return d.info
}

// Address returns the bus/device address.
func (d *Device) Address() hal.DeviceAddress {
	return d.info.Address
}

// IsHub reports whether the device is a hub with downstream ports.
func (d *Device) IsHub() bool {
	return d.info.DeviceClass == ClassHub && d.info.MaxChild > 0
}

// NumPorts returns the number of downstream ports; zero for non-hubs.
func (d *Device) NumPorts() int {
	return d.info.MaxChild
}

// EffectiveClass returns the device class, falling back to the first
// interface class for devices that declare their class per interface.
func (d *Device) EffectiveClass() uint8 {
	if d.info.DeviceClass == ClassPerInterface {
		return d.info.InterfaceClass
	}
	return d.info.DeviceClass
}

func (d *Device) String() string {
	return fmt.Sprintf("%s %04x:%04x", d.info.Address, d.info.VendorID, d.info.ProductID)
}

// ControlTransfer performs a control transfer on the default pipe.
func (d *Device) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	ctx, cancel := d.host.transferContext(ctx)
	defer cancel()
	return d.host.hal.ControlTransfer(ctx, d.info.Address, setup, data)
}

// InterruptTransfer performs an interrupt transfer.
func (d *Device) InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	return d.host.hal.InterruptTransfer(ctx, d.info.Address, endpoint, data)
}

// ClaimInterface claims an interface for exclusive use.
func (d *Device) ClaimInterface(iface uint8) error {
	return d.host.hal.ClaimInterface(d.info.Address, iface)
}

// ReleaseInterface releases a claimed interface.
func (d *Device) ReleaseInterface(iface uint8) error {
	return d.host.hal.ReleaseInterface(d.info.Address, iface)
}

// GetDescriptor performs a GET_DESCRIPTOR request.
func (d *Device) GetDescriptor(ctx context.Context, descType, descIndex uint8, langID uint16, data []byte) (int, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Index:       langID,
		Length:      uint16(len(data)),
	}
	return d.ControlTransfer(ctx, &setup, data)
}

// ReadDeviceDescriptor reads and parses the device descriptor.
func (d *Device) ReadDeviceDescriptor(ctx context.Context) (DeviceDescriptor, error) {
	var (
		buf  [DeviceDescriptorSize]byte
		desc DeviceDescriptor
	)
	n, err := d.GetDescriptor(ctx, DescriptorTypeDevice, 0, 0, buf[:])
	if err != nil {
		return desc, err
	}
	if !ParseDeviceDescriptor(buf[:n], &desc) {
		return desc, fmt.Errorf("%w: device descriptor is %d bytes", pkg.ErrProtocol, n)
	}
	return desc, nil
}

// ReadString reads a string descriptor in US English. Index 0 yields "".
func (d *Device) ReadString(ctx context.Context, index uint8) (string, error) {
	if index == 0 {
		return "", nil
	}
	var buf [255]byte
	n, err := d.GetDescriptor(ctx, DescriptorTypeString, index, LangIDUSEnglish, buf[:])
	if err != nil {
		return "", err
	}
	return decodeString(buf[:n]), nil
}

// decodeString converts a UTF-16LE string descriptor, keeping printable
// ASCII only.
func decodeString(buf []byte) string {
	if len(buf) < 2 {
		return ""
	}
	length := int(buf[0])
	if length > len(buf) {
		length = len(buf)
	}
	result := make([]byte, 0, length/2)
	for i := 2; i+1 < length; i += 2 {
		if buf[i+1] == 0 && buf[i] >= 0x20 && buf[i] < 0x7F {
			result = append(result, buf[i])
		}
	}
	return string(result)
}

// Configuration is the parsed tree of a configuration descriptor.
type Configuration struct {
	Descriptor ConfigurationDescriptor
	Interfaces []InterfaceDescriptor
	// Endpoints[i] belongs to Interfaces[i].
	Endpoints [][]EndpointDescriptor
}

// ReadConfiguration reads and parses the first configuration descriptor.
func (d *Device) ReadConfiguration(ctx context.Context) (Configuration, error) {
	var header [ConfigurationDescriptorSize]byte
	n, err := d.GetDescriptor(ctx, DescriptorTypeConfiguration, 0, 0, header[:])
	if err != nil {
		return Configuration{}, err
	}
	var cd ConfigurationDescriptor
	if !ParseConfigurationDescriptor(header[:n], &cd) {
		return Configuration{}, fmt.Errorf("%w: configuration header is %d bytes", pkg.ErrProtocol, n)
	}

	total := int(cd.TotalLength)
	if total > MaxDescriptorSize {
		total = MaxDescriptorSize
	}
	buf := make([]byte, total)
	n, err = d.GetDescriptor(ctx, DescriptorTypeConfiguration, 0, 0, buf)
	if err != nil {
		return Configuration{}, err
	}
	return ParseConfiguration(buf[:n])
}

// ParseConfiguration parses a full configuration descriptor tree.
// Class-specific descriptors are skipped.
func ParseConfiguration(data []byte) (Configuration, error) {
	var cfg Configuration
	if !ParseConfigurationDescriptor(data, &cfg.Descriptor) {
		return cfg, fmt.Errorf("%w: configuration is %d bytes", pkg.ErrProtocol, len(data))
	}

	end := len(data)
	if int(cfg.Descriptor.TotalLength) < end {
		end = int(cfg.Descriptor.TotalLength)
	}

	for offset := ConfigurationDescriptorSize; offset+2 <= end; {
		length := int(data[offset])
		if length < 2 || offset+length > end {
			break
		}

		switch data[offset+1] {
		case DescriptorTypeInterface:
			var iface InterfaceDescriptor
			if ParseInterfaceDescriptor(data[offset:], &iface) {
				cfg.Interfaces = append(cfg.Interfaces, iface)
				cfg.Endpoints = append(cfg.Endpoints, nil)
			}
		case DescriptorTypeEndpoint:
			var ep EndpointDescriptor
			if ParseEndpointDescriptor(data[offset:], &ep) && len(cfg.Interfaces) > 0 {
				last := len(cfg.Endpoints) - 1
				cfg.Endpoints[last] = append(cfg.Endpoints[last], ep)
			}
		}
		offset += length
	}
	return cfg, nil
}

// BootMouse returns the first boot-protocol mouse interface and its
// interrupt IN endpoint.
func (c Configuration) BootMouse() (InterfaceDescriptor, EndpointDescriptor, bool) {
	for i, iface := range c.Interfaces {
		if !iface.IsBootMouse() {
			continue
		}
		for _, ep := range c.Endpoints[i] {
			if ep.IsIn() && ep.IsInterrupt() {
				return iface, ep, true
			}
		}
	}
	return InterfaceDescriptor{}, EndpointDescriptor{}, false
}
