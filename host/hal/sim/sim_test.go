package sim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/ardnew/usbdiag/host"
	"github.com/ardnew/usbdiag/host/ehci"
	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/host/hal/sim"
	"github.com/ardnew/usbdiag/host/hub"
	"github.com/ardnew/usbdiag/pkg"
)

func startHost(t *testing.T, bus hal.HostHAL, policy hub.ResetPolicy) *host.Host {
	t.Helper()
	cfg := host.DefaultConfig()
	cfg.Reset.Policy = policy
	cfg.Reset.Clock = clocktesting.NewFakeClock(time.Unix(0, 0))
	h := host.New(bus, cfg)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func getStatus(t *testing.T, bus *sim.Bus, addr hal.DeviceAddress, port uint16) (status, change uint16) {
	t.Helper()
	setup := &hal.SetupPacket{
		RequestType: hub.RequestTypePortIn,
		Request:     hub.RequestGetStatus,
		Index:       port,
		Length:      hub.PortStatusSize,
	}
	buf := make([]byte, hub.PortStatusSize)
	n, err := bus.ControlTransfer(context.Background(), addr, setup, buf)
	if err != nil || n != hub.PortStatusSize {
		t.Fatalf("GET_STATUS port %d = (%d, %v)", port, n, err)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, uint16(buf[2]) | uint16(buf[3])<<8
}

func TestBusLifecycle(t *testing.T) {
	bus := sim.New()
	bus.AddDevice(sim.DeviceConfig{VendorID: 0x1234, ProductID: 0x5678})
	bus.AddDevice(sim.DeviceConfig{VendorID: 0x1234, ProductID: 0x5679})

	if _, err := bus.Devices(); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Devices() before Init error = %v, want ErrNotRunning", err)
	}
	if err := bus.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := bus.Init(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Init() error = %v, want ErrAlreadyRunning", err)
	}

	devs, err := bus.Devices()
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("len(Devices()) = %d, want 2", len(devs))
	}
	for i, d := range devs {
		want := hal.DeviceAddress{Bus: 1, Device: uint8(i + 1)}
		if d.Address != want {
			t.Errorf("device %d address = %s, want %s", i, d.Address, want)
		}
	}

	missing := hal.DeviceAddress{Bus: 1, Device: 9}
	setup := &hal.SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18}
	if _, err := bus.ControlTransfer(context.Background(), missing, setup, make([]byte, 18)); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("ControlTransfer(missing) error = %v, want ErrNoDevice", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := bus.Devices(); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Devices() after Close error = %v, want ErrNotRunning", err)
	}
}

func TestDescriptors(t *testing.T) {
	bus := sim.New()
	bus.AddDevice(sim.DeviceConfig{
		VendorID:       0x0781,
		ProductID:      0x5567,
		InterfaceClass: 0x08,
		Product:        "Cruzer",
	})
	h := startHost(t, bus, hub.PolicyFirstPass)

	dev, err := h.Device(0)
	if err != nil {
		t.Fatalf("Device(0) error = %v", err)
	}
	ctx := context.Background()

	desc, err := dev.ReadDeviceDescriptor(ctx)
	if err != nil {
		t.Fatalf("ReadDeviceDescriptor() error = %v", err)
	}
	if desc.VendorID != 0x0781 || desc.ProductID != 0x5567 {
		t.Errorf("descriptor IDs = %04x:%04x, want 0781:5567", desc.VendorID, desc.ProductID)
	}
	if desc.ManufacturerIndex != 0 {
		t.Errorf("ManufacturerIndex = %d, want 0 for empty string", desc.ManufacturerIndex)
	}

	product, err := dev.ReadString(ctx, desc.ProductIndex)
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if product != "Cruzer" {
		t.Errorf("ReadString() = %q, want %q", product, "Cruzer")
	}

	cfg, err := dev.ReadConfiguration(ctx)
	if err != nil {
		t.Fatalf("ReadConfiguration() error = %v", err)
	}
	if len(cfg.Interfaces) != 1 || cfg.Interfaces[0].InterfaceClass != 0x08 {
		t.Errorf("interfaces = %+v, want one mass storage interface", cfg.Interfaces)
	}
}

func TestHubPortStateMachine(t *testing.T) {
	bus := sim.New()
	hd := bus.AddHub(sim.DeviceConfig{VendorID: 0x05e3, ProductID: 0x0608}, 4)
	if err := bus.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	addr := hd.Address()

	status, change := getStatus(t, bus, addr, 1)
	if status != hub.StatusPower || change != 0 {
		t.Errorf("idle port = %04x/%04x, want %04x/0000", status, change, hub.StatusPower)
	}

	if err := hd.Connect(1, hal.SpeedHigh); err != nil {
		t.Fatal(err)
	}
	status, change = getStatus(t, bus, addr, 1)
	if status != hub.StatusPower|hub.StatusConnection|hub.StatusHighSpeed {
		t.Errorf("connected status = %04x", status)
	}
	if change != hub.ChangeConnection {
		t.Errorf("connected change = %04x, want %04x", change, hub.ChangeConnection)
	}

	if err := hd.Connect(9, hal.SpeedHigh); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Connect(9) error = %v, want ErrInvalidParameter", err)
	}

	if err := hd.Disconnect(1); err != nil {
		t.Fatal(err)
	}
	status, _ = getStatus(t, bus, addr, 1)
	if status&hub.StatusConnection != 0 || status&hub.StatusSuperSpeed != 0 {
		t.Errorf("disconnected status = %04x", status)
	}

	if err := hd.SetOverCurrent(2, true); err != nil {
		t.Fatal(err)
	}
	status, change = getStatus(t, bus, addr, 2)
	if status&hub.StatusOverCurrent == 0 || change&hub.ChangeOverCurrent == 0 {
		t.Errorf("over-current port = %04x/%04x", status, change)
	}
}

func TestHubReset(t *testing.T) {
	tests := []struct {
		name      string
		mode      sim.ResetMode
		policy    hub.ResetPolicy
		wantErr   error
		wantReset int
	}{
		{
			name:      "enables",
			mode:      sim.ResetEnables,
			policy:    hub.PolicyRequireEnabled,
			wantReset: 1,
		},
		{
			name:      "never enables under first pass",
			mode:      sim.ResetNeverEnables,
			policy:    hub.PolicyFirstPass,
			wantReset: 1,
		},
		{
			name:      "never enables under require enabled",
			mode:      sim.ResetNeverEnables,
			policy:    hub.PolicyRequireEnabled,
			wantErr:   pkg.ErrRetryExhausted,
			wantReset: hub.DefaultMaxAttempts,
		},
		{
			name:      "stuck",
			mode:      sim.ResetStuck,
			policy:    hub.PolicyRequireEnabled,
			wantErr:   pkg.ErrRetryExhausted,
			wantReset: hub.DefaultMaxAttempts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := sim.New()
			hd := bus.AddHub(sim.DeviceConfig{VendorID: 0x05e3, ProductID: 0x0608}, 4)
			_ = hd.Connect(3, hal.SpeedHigh)
			_ = hd.SetResetMode(3, tt.mode)

			h := startHost(t, bus, tt.policy)
			hb, err := h.Hub(0)
			if err != nil {
				t.Fatalf("Hub(0) error = %v", err)
			}

			res, err := hb.ResetPort(context.Background(), 3)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ResetPort() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResetPort() error = %v, want %v", err, tt.wantErr)
			}
			if got := hd.Resets(3); got != tt.wantReset {
				t.Errorf("resets = %d, want %d", got, tt.wantReset)
			}
			if res.Success != (tt.wantErr == nil) {
				t.Errorf("Success = %v", res.Success)
			}
			if tt.wantErr == nil {
				_, change, _ := hd.Port(3)
				if change&hub.ChangeReset != 0 {
					t.Errorf("C_PORT_RESET still latched after success: %04x", change)
				}
			}
		})
	}
}

func TestHubFaults(t *testing.T) {
	t.Run("set feature failure", func(t *testing.T) {
		bus := sim.New()
		hd := bus.AddHub(sim.DeviceConfig{}, 2)
		hd.Fail(hub.RequestSetFeature, pkg.ErrStall)
		h := startHost(t, bus, hub.PolicyFirstPass)
		hb, err := h.Hub(0)
		if err != nil {
			t.Fatal(err)
		}
		_, err = hb.ResetPort(context.Background(), 1)
		if !errors.Is(err, pkg.ErrTransport) || !errors.Is(err, pkg.ErrStall) {
			t.Errorf("ResetPort() error = %v, want ErrTransport wrapping ErrStall", err)
		}
	})

	t.Run("oversized status", func(t *testing.T) {
		bus := sim.New()
		hd := bus.AddHub(sim.DeviceConfig{}, 2)
		hd.SetStatusLength(8)
		h := startHost(t, bus, hub.PolicyFirstPass)
		hb, err := h.Hub(0)
		if err != nil {
			t.Fatal(err)
		}
		_, err = hb.GetPortStatus(context.Background(), 1)
		if !errors.Is(err, pkg.ErrOversizedResponse) {
			t.Errorf("GetPortStatus() error = %v, want ErrOversizedResponse", err)
		}
	})

	t.Run("clear change failure is tolerated", func(t *testing.T) {
		bus := sim.New()
		hd := bus.AddHub(sim.DeviceConfig{}, 2)
		_ = hd.Connect(1, hal.SpeedFull)
		hd.Fail(hub.RequestClearFeature, pkg.ErrStall)
		h := startHost(t, bus, hub.PolicyRequireEnabled)
		hb, err := h.Hub(0)
		if err != nil {
			t.Fatal(err)
		}
		res, err := hb.ResetPort(context.Background(), 1)
		if err != nil || !res.Success {
			t.Errorf("ResetPort() = %+v, %v; want success", res, err)
		}
	})
}

func TestMouse(t *testing.T) {
	bus := sim.New()
	m := bus.AddMouse(sim.DeviceConfig{VendorID: 0x046d, ProductID: 0xc077})
	ctx := context.Background()
	if err := bus.Init(ctx); err != nil {
		t.Fatal(err)
	}
	addr := m.Address()
	buf := make([]byte, 4)

	if _, err := bus.InterruptTransfer(ctx, addr, 0x81, buf); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("unclaimed InterruptTransfer() error = %v, want ErrBusy", err)
	}
	if err := bus.ClaimInterface(addr, 0); err != nil {
		t.Fatal(err)
	}

	if err := m.Push([]byte{0x01, 0x05, 0xFB, 0x00}); err != nil {
		t.Fatal(err)
	}
	n, err := bus.InterruptTransfer(ctx, addr, 0x81, buf)
	if err != nil {
		t.Fatalf("InterruptTransfer() error = %v", err)
	}
	if n != 4 || buf[0] != 0x01 || buf[1] != 0x05 || buf[2] != 0xFB {
		t.Errorf("report = % x (n=%d)", buf[:n], n)
	}

	if _, err := bus.InterruptTransfer(ctx, addr, 0x82, buf); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("wrong endpoint error = %v, want ErrStall", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := bus.InterruptTransfer(cctx, addr, 0x81, buf); !errors.Is(err, pkg.ErrCancelled) {
		t.Errorf("empty queue InterruptTransfer() error = %v, want ErrCancelled", err)
	}

	for i := 0; i < 64; i++ {
		if err := m.Push([]byte{0, 0, 0, 0}); err != nil {
			t.Fatalf("Push %d error = %v", i, err)
		}
	}
	if err := m.Push([]byte{0, 0, 0, 0}); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("Push on full queue error = %v, want ErrBusy", err)
	}
}

func TestDefault(t *testing.T) {
	topo := sim.Default()
	h := startHost(t, topo, hub.PolicyRequireEnabled)

	if got := h.NumDevices(); got != 4 {
		t.Fatalf("NumDevices() = %d, want 4", got)
	}
	root, err := h.Device(0)
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsHub() || root.NumPorts() != 6 {
		t.Errorf("root hub = %s, ports %d", root, root.NumPorts())
	}

	hb, err := h.Hub(0)
	if err != nil {
		t.Fatal(err)
	}
	statuses, err := hb.PortStatuses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !statuses[0].Connected || !statuses[0].Enabled {
		t.Errorf("root port 1 = %s, want connected and enabled", statuses[0])
	}
	if statuses[1].Connected {
		t.Errorf("root port 2 = %s, want empty", statuses[1])
	}

	if _, err := hb.ResetPort(context.Background(), 5); !errors.Is(err, pkg.ErrRetryExhausted) {
		t.Errorf("ResetPort(5) error = %v, want ErrRetryExhausted", err)
	}
	if got := topo.Root.Resets(5); got != hub.DefaultMaxAttempts {
		t.Errorf("root port 5 resets = %d, want %d", got, hub.DefaultMaxAttempts)
	}

	mouse, err := h.Device(2)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := mouse.ReadConfiguration(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := cfg.BootMouse(); !ok {
		t.Error("device 2 has no boot mouse interface")
	}
}

func TestDefaultMouseReports(t *testing.T) {
	topo := sim.Default()
	h := startHost(t, topo, hub.PolicyFirstPass)
	ctx := context.Background()

	dev, err := h.Device(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.ClaimInterface(0); err != nil {
		t.Fatal(err)
	}
	if err := topo.Mouse.Push([]byte{0x02, 0x01, 0xFF}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	n, err := dev.InterruptTransfer(ctx, 0x81, buf)
	if err != nil || n != 3 || buf[0] != 0x02 {
		t.Errorf("InterruptTransfer() = % x, %v", buf[:n], err)
	}
}

func TestPCIFunction(t *testing.T) {
	fn := sim.NewPCIFunction("0000:00:00.0", 0x8086, 0x29c0, 0x060000)

	tests := []struct {
		offset, size int
		want         uint32
	}{
		{0x00, 2, 0x8086},
		{0x02, 2, 0x29c0},
		{0x00, 4, 0x29c08086},
		{0x0B, 1, 0x06},
	}
	for _, tt := range tests {
		got, err := fn.ReadConfig(tt.offset, tt.size)
		if err != nil || got != tt.want {
			t.Errorf("ReadConfig(0x%x, %d) = 0x%x, %v; want 0x%x", tt.offset, tt.size, got, err, tt.want)
		}
	}

	if _, err := fn.ReadConfig(0xFE, 4); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ReadConfig past end error = %v", err)
	}
	if _, err := fn.ReadConfig(0, 3); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ReadConfig size 3 error = %v", err)
	}
	if err := fn.WriteConfig(0x04, 2, 0x0146); err != nil {
		t.Fatal(err)
	}
	if got, _ := fn.ReadConfig(0x04, 2); got != 0x0146 {
		t.Errorf("COMMAND after write = 0x%x", got)
	}
	if _, err := fn.MapBAR(0); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("MapBAR on function without BAR error = %v", err)
	}
}

func TestEHCIFunctionProbe(t *testing.T) {
	topo := sim.Default()
	fns := make([]ehci.Function, len(topo.PCI))
	for i, f := range topo.PCI {
		fns[i] = f
	}

	var cur ehci.Cursor
	fn, err := cur.Next(fns)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	c, err := ehci.Probe(fn)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	defer c.Stop()

	if c.CapLength() != 0x20 || c.Base() != 0xfebf1000 {
		t.Errorf("CapLength() = 0x%x, Base() = 0x%x", c.CapLength(), c.Base())
	}
	regs, err := c.Registers()
	if err != nil {
		t.Fatal(err)
	}
	if regs.Status != 0x1000 || regs.Command != 0x80000 || regs.ConfigFlag != 1 {
		t.Errorf("Registers() = %+v", regs)
	}
	if cmd, _ := fn.ReadConfig(ehci.ConfigCommand, 2); cmd&ehci.CommandBusMaster == 0 {
		t.Errorf("bus master not enabled: COMMAND = 0x%x", cmd)
	}

	if _, err := cur.Next(fns); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("second Next() error = %v, want ErrNoDevice", err)
	}
}

func TestRegion(t *testing.T) {
	r := sim.NewRegion(16)
	r.Write32(4, 0xdeadbeef)
	r.Write32(16, 1)
	if r.Read32(4) != 0xdeadbeef || r.Read32(0) != 0 {
		t.Errorf("Read32 = 0x%x, 0x%x", r.Read32(4), r.Read32(0))
	}
	if r.Read32(16) != 0xFFFFFFFF || r.Read32(2) != 0xFFFFFFFF {
		t.Error("out-of-window or unaligned reads should return all ones")
	}
	if r.Size() != 16 {
		t.Errorf("Size() = %d", r.Size())
	}
}
