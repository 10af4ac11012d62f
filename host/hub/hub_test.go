package hub

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// mockDevice records every control transfer and answers from scripted
// handlers.
type mockDevice struct {
	mutex  sync.Mutex
	setups []hal.SetupPacket

	// setErr is returned for SET_FEATURE requests; nil means success.
	setErr func(n int) error
	// clearErr is returned for CLEAR_FEATURE requests.
	clearErr error
	// status answers GET_STATUS requests. The nth read is passed in.
	status func(n int) (data []byte, reported int, err error)

	sets, reads int
}

func (m *mockDevice) ControlTransfer(_ context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.setups = append(m.setups, *setup)

	switch setup.Request {
	case RequestSetFeature:
		m.sets++
		if m.setErr != nil {
			return 0, m.setErr(m.sets)
		}
		return 0, nil
	case RequestClearFeature:
		return 0, m.clearErr
	case RequestGetStatus:
		m.reads++
		if m.status == nil {
			return 0, errors.New("no status")
		}
		resp, n, err := m.status(m.reads)
		if err != nil {
			return 0, err
		}
		copy(data, resp)
		return n, nil
	}
	return 0, pkg.ErrNotSupported
}

func (m *mockDevice) transfers() []hal.SetupPacket {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]hal.SetupPacket(nil), m.setups...)
}

func statusBytes(status, change uint16) []byte {
	b := make([]byte, PortStatusSize)
	binary.LittleEndian.PutUint16(b[0:], status)
	binary.LittleEndian.PutUint16(b[2:], change)
	return b
}

func fixedStatus(status, change uint16) func(int) ([]byte, int, error) {
	return func(int) ([]byte, int, error) {
		return statusBytes(status, change), PortStatusSize, nil
	}
}

func newTestHub(dev Transferer, ports int, policy ResetPolicy) (*Hub, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	h := New(dev, ports, Config{
		MaxAttempts: DefaultMaxAttempts,
		SettleDelay: DefaultSettleDelay,
		Policy:      policy,
		Clock:       clk,
	})
	return h, clk
}

func TestNew_Defaults(t *testing.T) {
	h := New(&mockDevice{}, 4, Config{})
	cfg := h.Config()

	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Policy != PolicyFirstPass {
		t.Errorf("Policy = %v, want %v", cfg.Policy, PolicyFirstPass)
	}
	if cfg.Clock == nil {
		t.Error("Clock is nil")
	}
	if h.NumPorts() != 4 {
		t.Errorf("NumPorts() = %d, want 4", h.NumPorts())
	}
}

func TestFeatureRequest_Setup(t *testing.T) {
	tests := []struct {
		name string
		req  FeatureRequest
		want hal.SetupPacket
	}{
		{
			name: "set reset",
			req:  FeatureRequest{Port: 2, Feature: FeatureReset, Set: true},
			want: hal.SetupPacket{RequestType: 0x23, Request: 0x03, Value: 4, Index: 2},
		},
		{
			name: "clear c_reset",
			req:  FeatureRequest{Port: 1, Feature: FeatureChangeReset},
			want: hal.SetupPacket{RequestType: 0x23, Request: 0x01, Value: 20, Index: 1},
		},
		{
			name: "set power",
			req:  FeatureRequest{Port: 7, Feature: FeaturePower, Set: true},
			want: hal.SetupPacket{RequestType: 0x23, Request: 0x03, Value: 8, Index: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Setup(); got != tt.want {
				t.Errorf("Setup() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFeatureRequest_String(t *testing.T) {
	r := FeatureRequest{Port: 3, Feature: FeatureReset, Set: true}
	if got, want := r.String(), "set PORT_RESET on port 3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestApply_TransportError(t *testing.T) {
	cause := errors.New("pipe broken")
	dev := &mockDevice{setErr: func(int) error { return cause }}
	h, _ := newTestHub(dev, 4, PolicyFirstPass)

	err := h.SetPortFeature(context.Background(), 1, FeaturePower)
	if !errors.Is(err, pkg.ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want to wrap cause", err)
	}
}

func TestGetPortStatus(t *testing.T) {
	dev := &mockDevice{status: fixedStatus(0x0103, 0x0001)}
	h, _ := newTestHub(dev, 4, PolicyFirstPass)

	st, err := h.GetPortStatus(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetPortStatus: %v", err)
	}
	if !st.Connected || !st.Enabled || !st.Powered || !st.ConnectionChange {
		t.Errorf("status = %s", st)
	}

	want := hal.SetupPacket{RequestType: 0xA3, Request: 0x00, Index: 3, Length: 4}
	if got := dev.transfers(); len(got) != 1 || got[0] != want {
		t.Errorf("transfers = %+v, want [%+v]", got, want)
	}
}

func TestGetPortStatus_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status func(int) ([]byte, int, error)
		want   error
	}{
		{
			name:   "transfer fails",
			status: func(int) ([]byte, int, error) { return nil, 0, errors.New("stall") },
			want:   pkg.ErrStatusRead,
		},
		{
			name:   "short read",
			status: func(int) ([]byte, int, error) { return []byte{1, 0}, 2, nil },
			want:   pkg.ErrStatusRead,
		},
		{
			name:   "oversized",
			status: func(int) ([]byte, int, error) { return statusBytes(0x0103, 0), 8, nil },
			want:   pkg.ErrOversizedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHub(&mockDevice{status: tt.status}, 4, PolicyFirstPass)
			_, err := h.GetPortStatus(context.Background(), 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPortStatuses(t *testing.T) {
	dev := &mockDevice{status: func(n int) ([]byte, int, error) {
		return statusBytes(uint16(n), 0), PortStatusSize, nil
	}}
	h, _ := newTestHub(dev, 3, PolicyFirstPass)

	got, err := h.PortStatuses(context.Background())
	if err != nil {
		t.Fatalf("PortStatuses: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, st := range got {
		if st.Status != uint16(i+1) {
			t.Errorf("port %d status = 0x%04x, want 0x%04x", i+1, st.Status, i+1)
		}
	}
}

func TestPortStatuses_StopsAtFirstError(t *testing.T) {
	dev := &mockDevice{status: func(n int) ([]byte, int, error) {
		if n == 2 {
			return nil, 0, errors.New("gone")
		}
		return statusBytes(0x0100, 0), PortStatusSize, nil
	}}
	h, _ := newTestHub(dev, 4, PolicyFirstPass)

	got, err := h.PortStatuses(context.Background())
	if !errors.Is(err, pkg.ErrStatusRead) {
		t.Errorf("error = %v, want ErrStatusRead", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
	if n := len(dev.transfers()); n != 2 {
		t.Errorf("transfers = %d, want 2", n)
	}
}
