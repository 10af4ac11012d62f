// Package usbid looks up vendor, product and class names in the usb.ids
// database shipped by usbutils and hwdata.
//
//	db := usbid.New()
//	if err := db.Load(); err != nil {
//		// names are simply left blank
//	}
//	vendor, product := db.Names(0x046d, 0xc077)
//
// A missing database is not fatal: lookups return empty strings. The
// database is read once; all methods are safe for concurrent use.
package usbid
