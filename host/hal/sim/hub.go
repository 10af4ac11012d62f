package sim

import (
	"context"
	"fmt"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/host/hub"
	"github.com/ardnew/usbdiag/pkg"
)

const (
	classHub            = 0x09
	descriptorHub       = 0x29
	requestTypeHubIn    = 0xA0
	requestTypeHubOut   = 0x20
	hubInterruptAddress = 0x81
)

// ResetMode selects how a simulated port responds to PORT_RESET.
type ResetMode int

const (
	// ResetEnables completes the reset at once, enabling a connected port
	// and latching C_PORT_RESET.
	ResetEnables ResetMode = iota
	// ResetNeverEnables latches C_PORT_RESET but leaves the port disabled.
	ResetNeverEnables
	// ResetStuck leaves PORT_RESET asserted and never latches C_PORT_RESET.
	ResetStuck
)

type port struct {
	status    uint16
	change    uint16
	resetMode ResetMode
	resets    int
	// fail, when set, is returned for port GET_STATUS.
	fail error
}

// Hub is a simulated hub with numbered downstream ports starting at 1.
// Ports start powered and empty.
type Hub struct {
	*function
	ports []port
	// statusLength, when non-zero, overrides the byte count reported for
	// port GET_STATUS.
	statusLength int
}

// AddHub attaches a hub with the given number of ports. The class fields of
// cfg are forced to the hub class.
func (b *Bus) AddHub(cfg DeviceConfig, ports int) *Hub {
	cfg.Class = classHub
	cfg.InterfaceClass = classHub
	if cfg.Speed == hal.SpeedUnknown {
		cfg.Speed = hal.SpeedHigh
	}
	f := newFunction(b.allocate(), cfg)
	f.maxChild = ports
	f.endpoints = []endpoint{{address: hubInterruptAddress, attributes: 0x03, maxPacketSize: 1, interval: 12}}
	h := &Hub{function: f, ports: make([]port, ports)}
	for i := range h.ports {
		h.ports[i].status = hub.StatusPower
	}
	b.add(h)
	return h
}

func (h *Hub) port(n int) (*port, error) {
	if n < 1 || n > len(h.ports) {
		return nil, fmt.Errorf("%w: port %d of %d", pkg.ErrInvalidParameter, n, len(h.ports))
	}
	return &h.ports[n-1], nil
}

func speedBits(s hal.Speed) uint16 {
	switch s {
	case hal.SpeedLow:
		return hub.StatusLowSpeed
	case hal.SpeedHigh:
		return hub.StatusHighSpeed
	case hal.SpeedSuper:
		return hub.StatusSuperSpeed
	default:
		return 0
	}
}

// Connect attaches a device of the given speed to a port and latches
// C_PORT_CONNECTION. Port numbers start at 1.
func (h *Hub) Connect(n int, speed hal.Speed) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.port(n)
	if err != nil {
		return err
	}
	p.status &^= hub.StatusSuperSpeed
	p.status |= hub.StatusConnection | speedBits(speed)
	p.change |= hub.ChangeConnection
	return nil
}

// Disconnect detaches the device on a port. An enabled port is disabled and
// latches C_PORT_ENABLE as well.
func (h *Hub) Disconnect(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.port(n)
	if err != nil {
		return err
	}
	if p.status&hub.StatusEnable != 0 {
		p.change |= hub.ChangeEnable
	}
	if p.status&hub.StatusConnection != 0 {
		p.change |= hub.ChangeConnection
	}
	p.status &^= hub.StatusConnection | hub.StatusEnable | hub.StatusSuspend | hub.StatusSuperSpeed
	return nil
}

// SetOverCurrent raises or drops the over-current indicator of a port.
func (h *Hub) SetOverCurrent(n int, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.port(n)
	if err != nil {
		return err
	}
	if on == (p.status&hub.StatusOverCurrent != 0) {
		return nil
	}
	p.status ^= hub.StatusOverCurrent
	p.change |= hub.ChangeOverCurrent
	return nil
}

// SetResetMode selects how a port responds to PORT_RESET.
func (h *Hub) SetResetMode(n int, mode ResetMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.port(n)
	if err != nil {
		return err
	}
	p.resetMode = mode
	return nil
}

// FailPort makes GET_STATUS of one port fail with err until cleared with a
// nil err.
func (h *Hub) FailPort(n int, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, perr := h.port(n)
	if perr != nil {
		return perr
	}
	p.fail = err
	return nil
}

// SetStatusLength makes port GET_STATUS report n bytes transferred. Zero
// restores normal behaviour.
func (h *Hub) SetStatusLength(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusLength = n
}

// Port returns the raw status and change words of a port.
func (h *Hub) Port(n int) (status, change uint16, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.port(n)
	if err != nil {
		return 0, 0, err
	}
	return p.status, p.change, nil
}

// Resets returns how many PORT_RESET requests a port has received.
func (h *Hub) Resets(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.port(n)
	if err != nil {
		return 0
	}
	return p.resets
}

func (h *Hub) control(setup *hal.SetupPacket, data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin(setup); err != nil {
		return 0, err
	}
	if n, handled, err := h.standard(setup, data); handled {
		return n, err
	}
	switch setup.RequestType {
	case hub.RequestTypePortIn, hub.RequestTypePortOut:
		return h.portRequest(setup, data)
	case requestTypeHubIn:
		return h.hubRequest(setup, data)
	case requestTypeHubOut:
		// Hub-level features have no state here.
		return 0, nil
	}
	return 0, pkg.ErrStall
}

func (h *Hub) hubRequest(setup *hal.SetupPacket, data []byte) (int, error) {
	switch setup.Request {
	case requestGetStatus:
		return copy(data, []byte{0, 0, 0, 0}), nil
	case requestGetDescriptor:
		if uint8(setup.Value>>8) != descriptorHub {
			return 0, pkg.ErrStall
		}
		// Individual port power switching, 100 ms power-on delay.
		desc := []byte{9, descriptorHub, byte(len(h.ports)), 0x09, 0x00, 50, 100, 0x00, 0xFF}
		return copy(data, desc), nil
	}
	return 0, pkg.ErrStall
}

func (h *Hub) portRequest(setup *hal.SetupPacket, data []byte) (int, error) {
	p, err := h.port(int(setup.Index))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", pkg.ErrStall, err)
	}
	switch {
	case setup.RequestType == hub.RequestTypePortIn && setup.Request == hub.RequestGetStatus:
		if p.fail != nil {
			return 0, p.fail
		}
		buf := []byte{byte(p.status), byte(p.status >> 8), byte(p.change), byte(p.change >> 8)}
		n := copy(data, buf)
		if h.statusLength != 0 {
			n = h.statusLength
		}
		return n, nil
	case setup.RequestType == hub.RequestTypePortOut && setup.Request == hub.RequestSetFeature:
		return 0, h.setFeature(p, hub.Feature(setup.Value))
	case setup.RequestType == hub.RequestTypePortOut && setup.Request == hub.RequestClearFeature:
		return 0, h.clearFeature(p, hub.Feature(setup.Value))
	}
	return 0, pkg.ErrStall
}

func (h *Hub) setFeature(p *port, f hub.Feature) error {
	switch f {
	case hub.FeatureReset:
		p.resets++
		if p.status&hub.StatusPower == 0 {
			return nil
		}
		switch p.resetMode {
		case ResetStuck:
			p.status |= hub.StatusReset
		case ResetNeverEnables:
			p.status &^= hub.StatusReset | hub.StatusEnable
			p.change |= hub.ChangeReset
		default:
			p.status &^= hub.StatusReset | hub.StatusSuspend
			if p.status&hub.StatusConnection != 0 {
				p.status |= hub.StatusEnable
			}
			p.change |= hub.ChangeReset
		}
	case hub.FeaturePower:
		p.status |= hub.StatusPower
	case hub.FeatureSuspend:
		if p.status&hub.StatusEnable != 0 {
			p.status |= hub.StatusSuspend
		}
	case hub.FeatureTest, hub.FeatureIndicator:
	default:
		return pkg.ErrStall
	}
	return nil
}

func (h *Hub) clearFeature(p *port, f hub.Feature) error {
	switch f {
	case hub.FeatureEnable:
		p.status &^= hub.StatusEnable
	case hub.FeatureSuspend:
		if p.status&hub.StatusSuspend != 0 {
			p.status &^= hub.StatusSuspend
			p.change |= hub.ChangeSuspend
		}
	case hub.FeaturePower:
		p.status &^= hub.StatusPower | hub.StatusEnable | hub.StatusSuspend | hub.StatusReset
	case hub.FeatureChangeConnection:
		p.change &^= hub.ChangeConnection
	case hub.FeatureChangeEnable:
		p.change &^= hub.ChangeEnable
	case hub.FeatureChangeSuspend:
		p.change &^= hub.ChangeSuspend
	case hub.FeatureChangeOverCurr:
		p.change &^= hub.ChangeOverCurrent
	case hub.FeatureChangeReset:
		p.change &^= hub.ChangeReset
	case hub.FeatureIndicator:
	default:
		return pkg.ErrStall
	}
	return nil
}

// interrupt reports the status change bitmap: bit n set for port n with a
// pending change.
func (h *Hub) interrupt(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if endpoint != hubInterruptAddress {
		return 0, pkg.ErrStall
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	bitmap := make([]byte, (len(h.ports)+8)/8)
	for i, p := range h.ports {
		if p.change != 0 {
			bitmap[(i+1)/8] |= 1 << uint((i+1)%8)
		}
	}
	return copy(data, bitmap), nil
}
