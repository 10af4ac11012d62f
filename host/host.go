package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/host/hub"
	"github.com/ardnew/usbdiag/pkg"
)

// Controller is a host controller registered with the Host. Variants are
// chosen when the controller is probed.
type Controller interface {
	// Name returns a human-readable controller name.
	Name() string

	// Stop releases the controller's resources.
	Stop() error
}

// Registers is a snapshot of a controller's operational registers.
type Registers struct {
	Status           uint32
	Command          uint32
	Interrupt        uint32
	ConfigFlag       uint32
	PeriodicListBase uint32
	AsyncListAddr    uint32
}

// RegisterReader is implemented by controllers that expose their
// operational registers.
type RegisterReader interface {
	Controller
	Registers() (Registers, error)
}

// Config holds Host options.
type Config struct {
	// TransferTimeout bounds each control transfer. Zero disables the bound.
	TransferTimeout time.Duration

	// Reset configures hubs handed out by Hub.
	Reset hub.Config
}

// DefaultConfig returns a Host configuration with a 1 s transfer timeout and
// the default reset parameters.
func DefaultConfig() Config {
	return Config{
		TransferTimeout: time.Second,
		Reset:           hub.DefaultConfig(),
	}
}

// Host holds the device and controller registries.
type Host struct {
	hal hal.HostHAL
	cfg Config

	devices     []*Device
	controllers []Controller

	// Hubs keep their in-flight reset set across calls.
	hubs map[hal.DeviceAddress]*hub.Hub

	running bool
	mutex   sync.RWMutex
}

// New creates a Host over the given HAL.
func New(h hal.HostHAL, cfg Config) *Host {
	return &Host{
		hal:  h,
		cfg:  cfg,
		hubs: make(map[hal.DeviceAddress]*hub.Hub),
	}
}

// Start initialises the HAL and takes the first device snapshot.
func (h *Host) Start(ctx context.Context) error {
	h.mutex.Lock()
	if h.running {
		h.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	h.mutex.Unlock()

	if err := h.hal.Init(ctx); err != nil {
		return err
	}

	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "host started")

	return h.Refresh(ctx)
}

// Stop stops every registered controller and closes the HAL.
func (h *Host) Stop() error {
	h.mutex.Lock()
	if !h.running {
		h.mutex.Unlock()
		return nil
	}
	h.running = false
	controllers := h.controllers
	h.controllers = nil
	h.devices = nil
	h.hubs = make(map[hal.DeviceAddress]*hub.Hub)
	h.mutex.Unlock()

	for _, c := range controllers {
		if err := c.Stop(); err != nil {
			pkg.LogWarn(pkg.ComponentHost, "controller stop failed",
				"controller", c.Name(),
				"error", err)
		}
	}

	if err := h.hal.Close(); err != nil {
		return err
	}

	pkg.LogInfo(pkg.ComponentHost, "host stopped")
	return nil
}

// IsRunning returns true if the host is running.
func (h *Host) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// Devices returns the device snapshot taken by the last Refresh.
func (h *Host) Devices() []*Device {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return append([]*Device(nil), h.devices...)
}

// NumDevices returns the number of devices in the snapshot.
func (h *Host) NumDevices() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.devices)
}

// Device returns the device at index, or an error wrapping
// [pkg.ErrInvalidParameter].
func (h *Host) Device(index int) (*Device, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if index < 0 || index >= len(h.devices) {
		return nil, fmt.Errorf("%w: device index %d out of range [0, %d)",
			pkg.ErrInvalidParameter, index, len(h.devices))
	}
	return h.devices[index], nil
}

// Hub returns the hub driver for the device at index. Repeated calls for
// the same device return the same Hub.
func (h *Host) Hub(index int) (*hub.Hub, error) {
	dev, err := h.Device(index)
	if err != nil {
		return nil, err
	}
	if !dev.IsHub() {
		return nil, fmt.Errorf("%w: device %d (%s)", pkg.ErrNotHub, index, dev)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if hb, ok := h.hubs[dev.Address()]; ok {
		return hb, nil
	}
	hb := hub.New(dev, dev.NumPorts(), h.cfg.Reset)
	h.hubs[dev.Address()] = hb
	return hb, nil
}

// AddController registers a controller.
func (h *Host) AddController(c Controller) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.controllers = append(h.controllers, c)
	pkg.LogInfo(pkg.ComponentHost, "controller registered",
		"index", len(h.controllers)-1,
		"controller", c.Name())
}

// Controllers returns the registered controllers in registration order.
func (h *Host) Controllers() []Controller {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return append([]Controller(nil), h.controllers...)
}

// transferContext applies the configured transfer timeout to ctx.
func (h *Host) transferContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.TransferTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.cfg.TransferTimeout)
}
