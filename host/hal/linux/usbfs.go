//go:build linux

package linux

import (
	"errors"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbdiag/pkg"
)

// ctrlTransfer matches struct usbdevfs_ctrltransfer.
type ctrlTransfer struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
	timeout     uint32 // milliseconds
	data        unsafe.Pointer
}

// bulkTransfer matches struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // milliseconds
	data     unsafe.Pointer
}

// usbdevfsIoctl matches struct usbdevfs_ioctl.
type usbdevfsIoctl struct {
	ifno      int32
	ioctlCode int32
	data      unsafe.Pointer
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

// doControlTransfer performs a synchronous control transfer.
func doControlTransfer(fd int, reqType, req uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	if len(data) > MaxControlTransferSize {
		return 0, fmt.Errorf("%w: control data phase of %d bytes", pkg.ErrInvalidParameter, len(data))
	}
	ctrl := ctrlTransfer{
		requestType: reqType,
		request:     req,
		value:       value,
		index:       index,
		length:      uint16(len(data)),
		timeout:     millis(timeout),
	}
	if len(data) > 0 {
		ctrl.data = unsafe.Pointer(&data[0])
	}
	n, err := ioctlPtr(fd, ioctlUsbdevfsControl, unsafe.Pointer(&ctrl))
	runtime.KeepAlive(data)
	return n, err
}

// doBulkTransfer performs a synchronous bulk or interrupt transfer; usbfs
// picks the pipe type from the endpoint descriptor.
func doBulkTransfer(fd int, endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	bulk := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  millis(timeout),
	}
	if len(data) > 0 {
		bulk.data = unsafe.Pointer(&data[0])
	}
	n, err := ioctlPtr(fd, ioctlUsbdevfsBulk, unsafe.Pointer(&bulk))
	runtime.KeepAlive(data)
	return n, err
}

func claimInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctlPtr(fd, ioctlUsbdevfsClaimInterface, unsafe.Pointer(&n))
	return err
}

func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctlPtr(fd, ioctlUsbdevfsReleaseInterface, unsafe.Pointer(&n))
	return err
}

// driverIoctl issues a USBDEVFS_IOCTL wrapping code for interface iface.
func driverIoctl(fd int, iface uint8, code uintptr) error {
	cmd := usbdevfsIoctl{ifno: int32(iface), ioctlCode: int32(code)}
	_, err := ioctlPtr(fd, ioctlUsbdevfsIoctl, unsafe.Pointer(&cmd))
	return err
}

// disconnectDriver detaches the kernel driver bound to iface. ENODATA means
// no driver was bound.
func disconnectDriver(fd int, iface uint8) error {
	err := driverIoctl(fd, iface, ioctlUsbdevfsDisconnect)
	if errors.Is(err, unix.ENODATA) {
		return nil
	}
	return err
}

// connectDriver asks the kernel to rebind a driver to iface.
func connectDriver(fd int, iface uint8) error {
	return driverIoctl(fd, iface, ioctlUsbdevfsConnect)
}

// resetDevice performs a USB port reset of the whole device.
func resetDevice(fd int) error {
	_, err := ioctlPtr(fd, ioctlUsbdevfsReset, nil)
	return err
}

func millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// mapErrno wraps a usbfs errno in the matching pkg sentinel.
func mapErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	var sentinel error
	switch errno {
	case unix.EPIPE:
		sentinel = pkg.ErrStall
	case unix.ETIMEDOUT:
		sentinel = pkg.ErrTimeout
	case unix.ENODEV, unix.ENOENT, unix.ESHUTDOWN:
		sentinel = pkg.ErrNoDevice
	case unix.EACCES, unix.EPERM:
		sentinel = pkg.ErrPermission
	case unix.EOVERFLOW:
		sentinel = pkg.ErrOverrun
	case unix.EREMOTEIO:
		sentinel = pkg.ErrUnderrun
	case unix.EBUSY:
		sentinel = pkg.ErrBusy
	case unix.EINVAL:
		sentinel = pkg.ErrInvalidParameter
	case unix.EINTR:
		sentinel = pkg.ErrCancelled
	default:
		sentinel = pkg.ErrProtocol
	}
	return fmt.Errorf("%w: %w", sentinel, errno)
}

func isNoDevice(err error) bool {
	return errors.Is(err, pkg.ErrNoDevice)
}
