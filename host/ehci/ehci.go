package ehci

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbdiag/host"
	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// ClassCode is the PCI class code of an EHCI controller: serial bus, USB,
// programming interface 0x20.
const ClassCode = 0x0C0320

// PCI configuration space offsets.
const (
	ConfigCommand = 0x04
	ConfigBAR0    = 0x10

	// CommandBusMaster is the bus master enable bit of the COMMAND register.
	CommandBusMaster = 0x0004
)

// Register is an operational register offset relative to the HCOR base.
type Register uint32

// Operational registers.
const (
	RegCommand          Register = 0x00 // USBCMD
	RegStatus           Register = 0x04 // USBSTS
	RegInterrupt        Register = 0x08 // USBINTR
	RegFrameIndex       Register = 0x0C // FRINDEX
	RegPeriodicListBase Register = 0x14 // PERIODICLISTBASE
	RegAsyncListAddr    Register = 0x18 // ASYNCLISTADDR
	RegConfigFlag       Register = 0x40 // CONFIGFLAG
)

// String returns the register mnemonic.
func (r Register) String() string {
	switch r {
	case RegCommand:
		return "USBCMD"
	case RegStatus:
		return "USBSTS"
	case RegInterrupt:
		return "USBINTR"
	case RegFrameIndex:
		return "FRINDEX"
	case RegPeriodicListBase:
		return "PERIODICLISTBASE"
	case RegAsyncListAddr:
		return "ASYNCLISTADDR"
	case RegConfigFlag:
		return "CONFIGFLAG"
	default:
		return fmt.Sprintf("REG(0x%02x)", uint32(r))
	}
}

// Function is a PCI function as seen by the probe.
type Function interface {
	// Name returns the function's bus address, e.g. "0000:00:1d.0".
	Name() string
	VendorID() uint16
	DeviceID() uint16
	// Class returns the 24-bit class code.
	Class() uint32

	// ReadConfig reads size (1, 2 or 4) bytes of configuration space.
	ReadConfig(offset, size int) (uint32, error)
	// WriteConfig writes size (1, 2 or 4) bytes of configuration space.
	WriteConfig(offset, size int, value uint32) error

	// MapBAR maps the memory window of a base address register.
	MapBAR(bar int) (hal.Region, error)
}

type pciID struct {
	vendor, device uint16
}

// knownControllers names the controllers the bring-up was validated on.
var knownControllers = map[pciID]string{
	{0x1033, 0x00E0}: "NEC",
	{0x10B9, 0x5239}: "ULi M1575",
	{0x12D8, 0x400F}: "Pericom",
}

// Cursor remembers the last function yielded so that successive calls to
// Next walk every EHCI function once. The zero value starts at the
// beginning of the list.
type Cursor struct {
	last  string
	index int
}

// Next returns the first EHCI function after the previous one. It returns
// pkg.ErrNoDevice once the list is exhausted. Functions are matched by
// name, so the list may be rescanned between calls.
func (c *Cursor) Next(functions []Function) (Function, error) {
	start := 0
	if c.last != "" {
		start = len(functions)
		for i, fn := range functions {
			if fn.Name() == c.last {
				start = i + 1
				break
			}
		}
	}
	for _, fn := range functions[start:] {
		if fn.Class() != ClassCode {
			continue
		}
		c.last = fn.Name()
		c.index++
		return fn, nil
	}
	return nil, fmt.Errorf("%w: EHCI host controller [%d] is not found", pkg.ErrNoDevice, c.index)
}

// Index returns how many functions Next has yielded.
func (c *Cursor) Index() int {
	return c.index
}

// Reset rewinds the cursor to the beginning.
func (c *Cursor) Reset() {
	*c = Cursor{}
}

// Controller is a probed EHCI controller.
type Controller struct {
	fn        Function
	name      string
	base      uint32 // BAR0 as read from configuration space
	capLength uint32

	regs  hal.Region
	mutex sync.Mutex
}

// Probe brings up fn. It fails with pkg.ErrNotSupported if fn is not an
// EHCI function. The register window is unmapped again if any step after
// mapping fails.
func Probe(fn Function) (*Controller, error) {
	if fn.Class() != ClassCode {
		return nil, fmt.Errorf("%w: %s has class 0x%06x", pkg.ErrNotSupported, fn.Name(), fn.Class())
	}

	bar, err := fn.ReadConfig(ConfigBAR0, 4)
	if err != nil {
		return nil, fmt.Errorf("read BAR0 of %s: %w", fn.Name(), err)
	}

	regs, err := fn.MapBAR(0)
	if err != nil {
		return nil, fmt.Errorf("map BAR0 of %s: %w", fn.Name(), err)
	}

	c := &Controller{
		fn:   fn,
		name: controllerName(fn),
		base: bar &^ 0xF,
		regs: regs,
	}
	if err := c.init(); err != nil {
		_ = regs.Close()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentEHCI, "EHCI-PCI init",
		"function", fn.Name(),
		"hccr", fmt.Sprintf("0x%x", c.base),
		"hcor", fmt.Sprintf("0x%x", c.base+c.capLength),
		"hcLength", c.capLength)
	return c, nil
}

func (c *Controller) init() error {
	c.capLength = c.regs.Read32(0) & 0xFF
	need := int(c.capLength) + int(RegConfigFlag) + 4
	if c.capLength == 0 || need > c.regs.Size() {
		return fmt.Errorf("%w: %s: CAPLENGTH %d outside %d byte window",
			pkg.ErrInvalidParameter, c.fn.Name(), c.capLength, c.regs.Size())
	}

	cmd, err := c.fn.ReadConfig(ConfigCommand, 2)
	if err != nil {
		return fmt.Errorf("read COMMAND of %s: %w", c.fn.Name(), err)
	}
	if err := c.fn.WriteConfig(ConfigCommand, 2, cmd|CommandBusMaster); err != nil {
		return fmt.Errorf("enable bus master on %s: %w", c.fn.Name(), err)
	}
	return nil
}

func controllerName(fn Function) string {
	if vendor, ok := knownControllers[pciID{fn.VendorID(), fn.DeviceID()}]; ok {
		return fmt.Sprintf("%s EHCI (%s)", vendor, fn.Name())
	}
	return fmt.Sprintf("EHCI %04x:%04x (%s)", fn.VendorID(), fn.DeviceID(), fn.Name())
}

// Name returns a human-readable controller name.
func (c *Controller) Name() string {
	return c.name
}

// Function returns the probed PCI function.
func (c *Controller) Function() Function {
	return c.fn
}

// Base returns the capability register base address from BAR0.
func (c *Controller) Base() uint32 {
	return c.base
}

// CapLength returns the offset of the operational registers.
func (c *Controller) CapLength() uint32 {
	return c.capLength
}

// Registers returns a snapshot of the operational registers.
func (c *Controller) Registers() (host.Registers, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.regs == nil {
		return host.Registers{}, pkg.ErrClosed
	}
	read := func(r Register) uint32 {
		return c.regs.Read32(c.capLength + uint32(r))
	}
	return host.Registers{
		Status:           read(RegStatus),
		Command:          read(RegCommand),
		Interrupt:        read(RegInterrupt),
		ConfigFlag:       read(RegConfigFlag),
		PeriodicListBase: read(RegPeriodicListBase),
		AsyncListAddr:    read(RegAsyncListAddr),
	}, nil
}

// Stop unmaps the register window. Further register reads fail with
// pkg.ErrClosed. Stop is idempotent.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.regs == nil {
		return nil
	}
	err := c.regs.Close()
	c.regs = nil
	return err
}

// Ensure Controller implements host.RegisterReader
var _ host.RegisterReader = (*Controller)(nil)
