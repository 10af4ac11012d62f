package sim

import (
	"context"
	"fmt"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

const (
	classHID              = 0x03
	hidSubClassBoot       = 0x01
	hidProtocolMouse      = 0x02
	requestTypeHIDOut     = 0x21
	mouseEndpointAddress  = 0x81
	mouseReportQueueDepth = 64
)

// Mouse is a simulated boot-protocol mouse. Reports pushed with Push are
// returned by InterruptTransfer in order.
type Mouse struct {
	*function
	reports chan []byte
}

// AddMouse attaches a boot mouse. The interface fields of cfg are forced to
// HID boot mouse.
func (b *Bus) AddMouse(cfg DeviceConfig) *Mouse {
	cfg.InterfaceClass = classHID
	cfg.InterfaceSubClass = hidSubClassBoot
	cfg.InterfaceProtocol = hidProtocolMouse
	if cfg.Speed == hal.SpeedUnknown {
		cfg.Speed = hal.SpeedLow
	}
	f := newFunction(b.allocate(), cfg)
	f.endpoints = []endpoint{{address: mouseEndpointAddress, attributes: 0x03, maxPacketSize: 4, interval: 10}}
	m := &Mouse{function: f, reports: make(chan []byte, mouseReportQueueDepth)}
	b.add(m)
	return m
}

// Push queues a report. It fails with ErrBusy when the queue is full.
func (m *Mouse) Push(report []byte) error {
	select {
	case m.reports <- append([]byte(nil), report...):
		return nil
	default:
		return fmt.Errorf("%w: mouse report queue full", pkg.ErrBusy)
	}
}

func (m *Mouse) control(setup *hal.SetupPacket, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(setup); err != nil {
		return 0, err
	}
	if n, handled, err := m.standard(setup, data); handled {
		return n, err
	}
	if setup.RequestType == requestTypeHIDOut {
		// SET_IDLE, SET_PROTOCOL and SET_REPORT are accepted and ignored.
		return 0, nil
	}
	return 0, pkg.ErrStall
}

// interrupt blocks until a report is queued or ctx is done.
func (m *Mouse) interrupt(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if endpoint != mouseEndpointAddress {
		return 0, pkg.ErrStall
	}
	select {
	case r := <-m.reports:
		return copy(data, r), nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", pkg.ErrCancelled, ctx.Err())
	}
}
