package diag

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/usbdiag/host"
	"github.com/ardnew/usbdiag/host/hub"
	"github.com/ardnew/usbdiag/pkg"
)

// Registry is the device and controller registry the printer reads.
// *host.Host implements it.
type Registry interface {
	Devices() []*host.Device
	NumDevices() int
	Device(index int) (*host.Device, error)
	Hub(index int) (*hub.Hub, error)
	Controllers() []host.Controller
}

// Namer resolves vendor and product names. *usbid.Database implements it.
type Namer interface {
	Names(vid, pid uint16) (vendor, product string)
}

// PortTableHeader heads the port status table; columns follow
// hub.PortStatus.Flags order.
const PortTableHeader = "  Port# CONN ENAB SUSP OVER REST POWR LOSP HISP SUPS C_CO C_EN C_SU C_OV C_RE"

// Printer writes diagnostics to an io.Writer.
type Printer struct {
	w     io.Writer
	reg   Registry
	names Namer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, reg Registry) *Printer {
	return &Printer{w: w, reg: reg}
}

// SetNamer enables vendor and product names in ShowDevice.
func (p *Printer) SetNamer(n Namer) {
	p.names = n
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// ShowDevices prints the device table.
func (p *Printer) ShowDevices() {
	p.printf("  index\t\tUSB_Addr\tInt_Num\t\tDescription\n")
	p.printf("  --------\t--------\t--------\t--------\n")
	for i, dev := range p.reg.Devices() {
		info := dev.Info()
		p.printf("  %d\t\t%d\t\t%d\t\t%s\n",
			i, info.Address.Device, info.InterfaceNumber, ClassDescription(dev.EffectiveClass()))
	}
}

// ShowDevice prints the detail of one device.
func (p *Printer) ShowDevice(index int) error {
	dev, err := p.reg.Device(index)
	if err != nil {
		p.printf("  Please specify a valid address value,range from [0] to [%d].\n", p.reg.NumDevices()-1)
		return err
	}
	info := dev.Info()
	p.printf("  Index#: %d\n  Dev_Num: %d\n  Manufacturer: %s\n  Product: %s\n  Serial: %s\n",
		index, info.Address.Device, info.Manufacturer, info.Product, info.SerialNumber)
	p.printf("  Class/Subclass/Proto: %d/%d/%d\n",
		info.DeviceClass, info.DeviceSubClass, info.DeviceProtocol)
	p.printf("  Vendor/Product/Device: 0x%X/0x%X/0x%X\n",
		info.VendorID, info.ProductID, info.DeviceVersion)
	if p.names != nil {
		vendor, product := p.names.Names(info.VendorID, info.ProductID)
		if vendor != "" {
			p.printf("  Vendor name: %s\n", vendor)
		}
		if product != "" {
			p.printf("  Product name: %s\n", product)
		}
	}
	return nil
}

// ShowPorts prints the status of every downstream port of a hub. It stops at
// the first port whose status cannot be read.
func (p *Printer) ShowPorts(ctx context.Context, index int) error {
	if _, err := p.reg.Device(index); err != nil {
		p.printf("  Error: Please specify a valid USB device index,range from 0 to [%d].\n", p.reg.NumDevices()-1)
		return err
	}
	hb, err := p.reg.Hub(index)
	if err != nil {
		if errors.Is(err, pkg.ErrNotHub) {
			p.printf("  Error: The USB device you specified is not a USB hub.\n")
		}
		return err
	}

	p.printf("%s\n", PortTableHeader)
	statuses, err := hb.PortStatuses(ctx)
	for i, st := range statuses {
		p.printPortRow(i, st)
	}
	if err != nil {
		p.printf("  Error: Failed to get port [%d]'s status.\n", len(statuses))
		pkg.LogDebug(pkg.ComponentDiag, "port status read failed", "device", index, "port", len(statuses)+1, "error", err)
		return err
	}
	return nil
}

func (p *Printer) printPortRow(port int, st hub.PortStatus) {
	p.printf("     %02d", port)
	for _, set := range st.Flags() {
		v := 0
		if set {
			v = 1
		}
		p.printf(" %d   ", v)
	}
	p.printf("\n")
}

// ResetPort resets a hub port. port is 0-based here, as in the port table;
// the hub request uses port+1.
func (p *Printer) ResetPort(ctx context.Context, index, port int) (hub.ResetResult, error) {
	dev, err := p.reg.Device(index)
	if err != nil {
		p.printf("  Please specify a valid USB device index,range from [0] to [%d].\n", p.reg.NumDevices()-1)
		return hub.ResetResult{Err: err}, err
	}
	if port < 0 || port >= dev.NumPorts() {
		p.printf(" Please specify the correct port ID of USB HUB.\n")
		err := fmt.Errorf("%w: port %d of %d on device %d", pkg.ErrInvalidParameter, port, dev.NumPorts(), index)
		return hub.ResetResult{Err: err}, err
	}
	hb, err := p.reg.Hub(index)
	if err != nil {
		p.printf(" Please specify the correct port ID of USB HUB.\n")
		return hub.ResetResult{Err: err}, err
	}

	res, err := hb.ResetPort(ctx, port+1)
	if err != nil {
		p.printf("  Can not reset the specified port with err = %v.\n", err)
		return res, err
	}
	p.printf("  Success to reset the specified port,status = %X.\n", res.Status.Status)
	return res, nil
}

// ShowControllers dumps the operational registers of every registered
// controller that exposes them.
func (p *Printer) ShowControllers() {
	for i, c := range p.reg.Controllers() {
		rr, ok := c.(host.RegisterReader)
		if !ok {
			continue
		}
		regs, err := rr.Registers()
		if err != nil {
			pkg.LogWarn(pkg.ComponentDiag, "controller registers unavailable",
				"index", i, "controller", c.Name(), "error", err)
			continue
		}
		p.printf("  USB Controller [%d] status information:\n", i)
		p.printf("    status:    %X\n", regs.Status)
		p.printf("    command:   %X\n", regs.Command)
		p.printf("    intr:      %X\n", regs.Interrupt)
		p.printf("    conf_flag: %X\n", regs.ConfigFlag)
		p.printf("    pl_base:   %X\n", regs.PeriodicListBase)
		p.printf("    al_base:   %X\n", regs.AsyncListAddr)
	}
}

// EchoMouse prints mouse events until a key event arrives, events is
// closed or ctx is done. Only the last case returns an error.
func (p *Printer) EchoMouse(ctx context.Context, events <-chan MouseEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok || ev.Kind == EventKey {
				return nil
			}
			p.printf("  %s,x = %d,y = %d.\n", ev.Kind, ev.X, ev.Y)
		}
	}
}

// Ensure host.Host satisfies Registry
var _ Registry = (*host.Host)(nil)
