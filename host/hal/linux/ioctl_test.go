//go:build linux && amd64

package linux

import "testing"

// Values from <linux/usbdevice_fs.h> on x86_64.
func TestIoctlNumbers(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"USBDEVFS_CONTROL", ioctlUsbdevfsControl, 0xC0185500},
		{"USBDEVFS_BULK", ioctlUsbdevfsBulk, 0xC0185502},
		{"USBDEVFS_CLAIMINTERFACE", ioctlUsbdevfsClaimInterface, 0x8004550F},
		{"USBDEVFS_RELEASEINTERFACE", ioctlUsbdevfsReleaseInterface, 0x80045510},
		{"USBDEVFS_IOCTL", ioctlUsbdevfsIoctl, 0xC0105512},
		{"USBDEVFS_RESET", ioctlUsbdevfsReset, 0x00005514},
		{"USBDEVFS_DISCONNECT", ioctlUsbdevfsDisconnect, 0x00005516},
		{"USBDEVFS_CONNECT", ioctlUsbdevfsConnect, 0x00005517},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = 0x%08X, want 0x%08X", tt.name, tt.got, tt.want)
		}
	}
}
