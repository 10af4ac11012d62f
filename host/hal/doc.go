// Package hal defines the Hardware Abstraction Layer used by usbdiag.
//
// The HAL is the boundary between the diagnostic code and whatever actually
// moves bytes on the bus. Hub port decoding, port reset and device listing are
// written against [HostHAL] only; they never touch device nodes or registers
// directly.
//
// # Interface Overview
//
// The [HostHAL] interface covers:
//   - Lifecycle (Init, Close)
//   - A snapshot of attached devices (Devices)
//   - Control transfers, the only primitive the hub port code needs
//   - Interrupt transfers and interface claiming, used to echo mouse reports
//
// # Implementations
//
//   - [github.com/ardnew/usbdiag/host/hal/linux] talks to usbfs and sysfs
//   - [github.com/ardnew/usbdiag/host/hal/sim] is an in-memory bus with a
//     simulated hub, used by tests and by "usbdiag --sim"
//
// Implementations must serialise transfers per device; callers may issue
// transfers to different devices concurrently.
package hal
