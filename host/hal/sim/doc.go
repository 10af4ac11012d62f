// Package sim provides an in-memory USB bus implementing [hal.HostHAL].
//
// A [Bus] holds simulated devices. Hubs answer the hub class port requests
// with a port state machine: PORT_RESET on a connected port enables it and
// latches C_PORT_RESET, C_* selectors clear change bits, PORT_POWER powers
// the port. Boot-protocol mice queue reports that InterruptTransfer hands
// out one at a time. Every device answers GET_DESCRIPTOR for its device,
// configuration and string descriptors.
//
// Faults can be injected per hub port to exercise error paths:
//
//	bus := sim.New()
//	h := bus.AddHub(sim.DeviceConfig{VendorID: 0x05e3, ProductID: 0x0608}, 4)
//	h.Connect(1, hal.SpeedHigh)
//	h.SetResetMode(1, sim.ResetNeverEnables)
//
// [PCIFunction] simulates PCI configuration space and, for EHCI functions, a
// BAR0 register window, so controller bring-up can run without hardware.
//
// [Default] builds the small topology used by "usbdiag --sim".
package sim
