package diag

import (
	"fmt"

	"github.com/ardnew/usbdiag/host"
)

// baseClasses describes USB base class codes in the device table.
var baseClasses = map[uint8]string{
	host.ClassPerInterface:    "Shoud check farther.",
	host.ClassAudio:           "Audio functions.",
	host.ClassCDC:             "Communications and CDC control.",
	host.ClassHID:             "HID(Human Interface Devices).",
	host.ClassPhysical:        "Physical.",
	host.ClassImage:           "Image device.",
	host.ClassPrinter:         "USB Printer.",
	host.ClassMassStorage:     "USB Mass storage.",
	host.ClassHub:             "USB Hub device.",
	host.ClassCDCData:         "CDC-Data.",
	host.ClassSmartCard:       "Smart Card.",
	host.ClassContentSecurity: "Content security.",
	host.ClassVideo:           "Video devices.",
	host.ClassPersonalHealth:  "Personal Healthcare devices.",
	host.ClassDiagnostic:      "Diagnostic devices.",
	host.ClassWireless:        "Wireless Controller.",
	host.ClassMiscellaneous:   "Miscellaneous devices.",
	host.ClassApplication:     "Application specific devices.",
	host.ClassVendorSpecific:  "Vendor specific.",
}

// ClassDescription returns the device table description of a base class.
func ClassDescription(class uint8) string {
	if desc, ok := baseClasses[class]; ok {
		return desc
	}
	return fmt.Sprintf("Desc = [NULL],base class = [%d]", class)
}
