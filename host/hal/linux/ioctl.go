//go:build linux

package linux

import "unsafe"

// Linux ioctl number layout (low to high): command number, ioctl type,
// argument size, direction. The direction encoding is per architecture.
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ion(typ, nr uintptr) uintptr { return ioc(iocNone, typ, nr, 0) }
func ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

// usbfs requests (include/uapi/linux/usbdevice_fs.h).
var (
	ioctlUsbdevfsControl          = iowr('U', 0, unsafe.Sizeof(ctrlTransfer{}))
	ioctlUsbdevfsBulk             = iowr('U', 2, unsafe.Sizeof(bulkTransfer{}))
	ioctlUsbdevfsClaimInterface   = ior('U', 15, 4)
	ioctlUsbdevfsReleaseInterface = ior('U', 16, 4)
	ioctlUsbdevfsIoctl            = iowr('U', 18, unsafe.Sizeof(usbdevfsIoctl{}))
	ioctlUsbdevfsReset            = ion('U', 20)
	ioctlUsbdevfsDisconnect       = ion('U', 22)
	ioctlUsbdevfsConnect          = ion('U', 23)
)
