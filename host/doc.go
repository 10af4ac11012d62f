// Package host keeps the device and controller registries used by the
// diagnostics.
//
// It is platform-agnostic and reaches hardware through the [hal.HostHAL]
// interface defined in the github.com/ardnew/usbdiag/host/hal package.
//
// # Registries
//
//   - Host.Devices returns a snapshot of attached devices taken at the last
//     Refresh. Indices in the snapshot are the device indices accepted by
//     the diagnostic commands.
//   - Host.Controllers returns the host controllers registered with
//     AddController, such as the EHCI controllers probed by
//     [github.com/ardnew/usbdiag/host/ehci].
//
// # Hubs
//
// Host.Hub wraps a hub device in a [hub.Hub] configured from Config.Reset.
// The same Hub is returned for a device until it leaves the snapshot, so the
// per-port reset guard spans calls.
//
// # Example
//
//	h := host.New(linux.NewHostHAL(linux.DefaultConfig()), host.DefaultConfig())
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop()
//
//	hb, err := h.Hub(0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := hb.ResetPort(ctx, 1)
//
// An in-memory HAL for testing is available in
// [github.com/ardnew/usbdiag/host/hal/sim].
package host
