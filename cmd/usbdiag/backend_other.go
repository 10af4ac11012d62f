//go:build !linux

package main

import (
	"fmt"

	"github.com/ardnew/usbdiag/config"
	"github.com/ardnew/usbdiag/pkg"
)

func platformBackend(config.Config) (*backend, error) {
	return nil, fmt.Errorf("%w: host USB access requires Linux; use --sim", pkg.ErrNotSupported)
}
