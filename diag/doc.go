// Package diag renders USB diagnostics as fixed-format text.
//
// A [Printer] reads from a [Registry] (normally a *host.Host) and writes the
// device table, single device detail, hub port status table, port reset
// outcome and controller register dump. Caller errors such as an index out
// of range print an operator hint and return an error wrapping
// pkg.ErrInvalidParameter; nothing is sent to the hardware in that case.
//
// [MouseDecoder] turns boot-protocol mouse reports into button, move and
// double click events which [Printer.EchoMouse] prints until a key event
// arrives.
package diag
