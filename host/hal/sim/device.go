package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// Standard request and descriptor codes answered by every device.
const (
	requestGetStatus     = 0x00
	requestClearFeature  = 0x01
	requestSetFeature    = 0x03
	requestGetDescriptor = 0x06

	descriptorDevice        = 0x01
	descriptorConfiguration = 0x02
	descriptorString        = 0x03
	descriptorInterface     = 0x04
	descriptorEndpoint      = 0x05

	stringManufacturer = 1
	stringProduct      = 2
	stringSerial       = 3
)

// DeviceConfig describes a simulated device.
type DeviceConfig struct {
	VendorID      uint16
	ProductID     uint16
	DeviceVersion uint16
	Class         uint8
	SubClass      uint8
	Protocol      uint8
	Speed         hal.Speed

	Manufacturer string
	Product      string
	Serial       string

	// Interface of the single configuration.
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
}

type endpoint struct {
	address       uint8
	attributes    uint8
	maxPacketSize uint16
	interval      uint8
}

// function holds the state shared by every simulated device.
type function struct {
	addr      hal.DeviceAddress
	path      string
	cfg       DeviceConfig
	maxChild  int
	endpoints []endpoint

	// fail makes requests with the given bRequest fail.
	fail map[uint8]error
	// requests records every SETUP packet received.
	requests []hal.SetupPacket

	mu sync.Mutex
}

func newFunction(addr hal.DeviceAddress, cfg DeviceConfig) *function {
	return &function{
		addr: addr,
		path: fmt.Sprintf("1-%d", addr.Device),
		cfg:  cfg,
		fail: make(map[uint8]error),
	}
}

func (f *function) info() hal.DeviceInfo {
	return hal.DeviceInfo{
		Address:         f.addr,
		Path:            f.path,
		Speed:           f.cfg.Speed,
		DeviceClass:     f.cfg.Class,
		DeviceSubClass:  f.cfg.SubClass,
		DeviceProtocol:  f.cfg.Protocol,
		VendorID:        f.cfg.VendorID,
		ProductID:       f.cfg.ProductID,
		DeviceVersion:   f.cfg.DeviceVersion,
		InterfaceClass:  f.cfg.InterfaceClass,
		InterfaceNumber: 0,
		Manufacturer:    f.cfg.Manufacturer,
		Product:         f.cfg.Product,
		SerialNumber:    f.cfg.Serial,
		MaxChild:        f.maxChild,
	}
}

// Address returns the device's bus address.
func (f *function) Address() hal.DeviceAddress {
	return f.addr
}

// Fail makes every request with bRequest req fail with err until cleared
// with a nil err.
func (f *function) Fail(req uint8, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, req)
		return
	}
	f.fail[req] = err
}

// Requests returns the SETUP packets received so far.
func (f *function) Requests() []hal.SetupPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hal.SetupPacket(nil), f.requests...)
}

// begin records setup and returns the injected failure for it, if any.
// f.mu must be held.
func (f *function) begin(setup *hal.SetupPacket) error {
	f.requests = append(f.requests, *setup)
	if err, ok := f.fail[setup.Request]; ok {
		return err
	}
	return nil
}

// standard answers GET_DESCRIPTOR. handled is false for any other request.
// f.mu must be held.
func (f *function) standard(setup *hal.SetupPacket, data []byte) (n int, handled bool, err error) {
	if setup.RequestType != 0x80 || setup.Request != requestGetDescriptor {
		return 0, false, nil
	}
	var desc []byte
	switch uint8(setup.Value >> 8) {
	case descriptorDevice:
		desc = f.deviceDescriptor()
	case descriptorConfiguration:
		desc = f.configDescriptor()
	case descriptorString:
		desc, err = f.stringDescriptor(uint8(setup.Value))
		if err != nil {
			return 0, true, err
		}
	default:
		return 0, true, pkg.ErrStall
	}
	return copy(data, desc), true, nil
}

func (f *function) deviceDescriptor() []byte {
	c := f.cfg
	var mfr, prod, ser uint8
	if c.Manufacturer != "" {
		mfr = stringManufacturer
	}
	if c.Product != "" {
		prod = stringProduct
	}
	if c.Serial != "" {
		ser = stringSerial
	}
	return []byte{
		18, descriptorDevice, 0x00, 0x02,
		c.Class, c.SubClass, c.Protocol, 64,
		byte(c.VendorID), byte(c.VendorID >> 8),
		byte(c.ProductID), byte(c.ProductID >> 8),
		byte(c.DeviceVersion), byte(c.DeviceVersion >> 8),
		mfr, prod, ser, 1,
	}
}

func (f *function) configDescriptor() []byte {
	total := 9 + 9 + 7*len(f.endpoints)
	out := []byte{
		9, descriptorConfiguration, byte(total), byte(total >> 8), 1, 1, 0, 0xA0, 50,
		9, descriptorInterface, 0, 0, byte(len(f.endpoints)),
		f.cfg.InterfaceClass, f.cfg.InterfaceSubClass, f.cfg.InterfaceProtocol, 0,
	}
	for _, ep := range f.endpoints {
		out = append(out, 7, descriptorEndpoint, ep.address, ep.attributes,
			byte(ep.maxPacketSize), byte(ep.maxPacketSize>>8), ep.interval)
	}
	return out
}

func (f *function) stringDescriptor(index uint8) ([]byte, error) {
	var s string
	switch index {
	case 0:
		return []byte{4, descriptorString, 0x09, 0x04}, nil
	case stringManufacturer:
		s = f.cfg.Manufacturer
	case stringProduct:
		s = f.cfg.Product
	case stringSerial:
		s = f.cfg.Serial
	}
	if s == "" {
		return nil, pkg.ErrStall
	}
	out := []byte{byte(2 + 2*len(s)), descriptorString}
	for i := 0; i < len(s); i++ {
		out = append(out, s[i], 0)
	}
	return out, nil
}

// Device is a simulated device with no function beyond its descriptors.
type Device struct {
	*function
}

// AddDevice attaches a plain device.
func (b *Bus) AddDevice(cfg DeviceConfig) *Device {
	d := &Device{function: newFunction(b.allocate(), cfg)}
	b.add(d)
	return d
}

func (d *Device) control(setup *hal.SetupPacket, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(setup); err != nil {
		return 0, err
	}
	n, handled, err := d.standard(setup, data)
	if !handled {
		return 0, pkg.ErrStall
	}
	return n, err
}

func (d *Device) interrupt(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	return 0, pkg.ErrStall
}
