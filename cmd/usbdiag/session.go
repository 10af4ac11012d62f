package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/usbdiag/diag"
	"github.com/ardnew/usbdiag/host"
	"github.com/ardnew/usbdiag/host/ehci"
	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/host/hal/sim"
	"github.com/ardnew/usbdiag/pkg"
	"github.com/ardnew/usbdiag/pkg/usbid"
)

// backend is a HAL plus the platform services outside hal.HostHAL.
type backend struct {
	hal hal.HostHAL

	// pci lists the PCI functions to probe for EHCI controllers.
	pci func() ([]ehci.Function, error)

	// resetDevice issues a port reset through the kernel; nil if unsupported.
	resetDevice func(hal.DeviceAddress) error

	// mouse is set on the simulated bus only.
	mouse *sim.Mouse
}

func simBackend() *backend {
	topo := sim.Default()
	fns := make([]ehci.Function, len(topo.PCI))
	for i, f := range topo.PCI {
		fns[i] = f
	}
	return &backend{
		hal:   topo,
		pci:   func() ([]ehci.Function, error) { return fns, nil },
		mouse: topo.Mouse,
	}
}

func (o *options) backend() (*backend, error) {
	if o.sim {
		return simBackend(), nil
	}
	return platformBackend(o.cfg)
}

// session is a started host with its printer.
type session struct {
	backend *backend
	host    *host.Host
	printer *diag.Printer
}

// open starts a host on the selected backend, registers the EHCI
// controllers found on the PCI bus and loads usb.ids when available.
func (o *options) open(ctx context.Context, out io.Writer) (*session, error) {
	b, err := o.backend()
	if err != nil {
		return nil, err
	}
	hc, err := o.cfg.HostConfig()
	if err != nil {
		return nil, err
	}

	h := host.New(b.hal, hc)
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	probeControllers(h, b.pci)

	p := diag.NewPrinter(out, h)
	db := usbid.New()
	if err := db.Load(); err != nil {
		pkg.LogDebug(pkg.ComponentDiag, "usb.ids unavailable", "error", err)
	} else {
		p.SetNamer(db)
	}

	return &session{backend: b, host: h, printer: p}, nil
}

func (s *session) close() {
	if err := s.host.Stop(); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "host stop failed", "error", err)
	}
}

// probeControllers brings up every EHCI function in turn. Functions that
// fail to probe are logged and skipped.
func probeControllers(h *host.Host, list func() ([]ehci.Function, error)) {
	fns, err := list()
	if err != nil {
		pkg.LogWarn(pkg.ComponentEHCI, "PCI scan failed", "error", err)
		return
	}

	var cur ehci.Cursor
	for {
		fn, err := cur.Next(fns)
		if errors.Is(err, pkg.ErrNoDevice) {
			pkg.LogDebug(pkg.ComponentEHCI, "EHCI scan done", "found", cur.Index())
			return
		}
		if err != nil {
			pkg.LogWarn(pkg.ComponentEHCI, "EHCI scan failed", "error", err)
			return
		}
		c, err := ehci.Probe(fn)
		if err != nil {
			pkg.LogWarn(pkg.ComponentEHCI, "EHCI probe failed",
				"function", fn.Name(),
				"error", err)
			continue
		}
		h.AddController(c)
	}
}

// withSession opens a session, runs fn and stops the host.
func (o *options) withSession(ctx context.Context, out io.Writer, fn func(*session) error) error {
	s, err := o.open(ctx, out)
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	defer s.close()
	return fn(s)
}
