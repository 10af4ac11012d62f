// Package ehci brings up PCI-attached EHCI host controllers.
//
// A [Cursor] walks a PCI function list and yields each function whose class
// code is 0x0C0320. [Probe] then reads BAR0, maps the register window,
// locates the operational registers at CAPLENGTH and enables bus mastering.
// The resulting [Controller] implements host.RegisterReader so it can be
// registered with a host.Host and dumped by the diagnostics.
//
//	var cur ehci.Cursor
//	for {
//		fn, err := cur.Next(functions)
//		if err != nil {
//			break
//		}
//		c, err := ehci.Probe(fn)
//		...
//	}
package ehci
