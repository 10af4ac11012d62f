// Package hub implements USB 2.0 hub port status decoding, port feature
// control and the port reset sequence.
//
// A [Hub] wraps the default control pipe of one hub device. Every operation
// is a short series of class-specific control requests addressed to a port
// (bmRequestType 0x23 / 0xA3):
//
//	h := hub.New(dev, dev.MaxChild(), hub.DefaultConfig())
//	st, err := h.GetPortStatus(ctx, 1)
//	res, err := h.ResetPort(ctx, 1)
//
// Port numbers are 1-based as on the wire.
//
// # Reset Policy
//
// The reset sequence requests PORT_RESET, waits a settle delay, reads the port
// status and acknowledges C_PORT_RESET. Whether the first completed cycle is
// accepted or the port must report itself enabled is selected by
// [ResetPolicy].
package hub
