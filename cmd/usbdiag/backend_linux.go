//go:build linux

package main

import (
	"github.com/ardnew/usbdiag/config"
	"github.com/ardnew/usbdiag/host/ehci"
	"github.com/ardnew/usbdiag/host/hal/linux"
)

func platformBackend(cfg config.Config) (*backend, error) {
	h := linux.NewHostHAL(linux.Config{
		SysfsUSB:        cfg.Sysfs.USB,
		SysfsPCI:        cfg.Sysfs.PCI,
		DevfsUSB:        cfg.Sysfs.Devfs,
		TransferTimeout: cfg.TransferTimeout.Duration,
	})
	return &backend{
		hal: h,
		pci: func() ([]ehci.Function, error) {
			list, err := h.PCIFunctions()
			if err != nil {
				return nil, err
			}
			fns := make([]ehci.Function, len(list))
			for i, f := range list {
				fns[i] = f
			}
			return fns, nil
		},
		resetDevice: h.ResetDevice,
	}, nil
}
