//go:build linux

package linux

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// PCIFunction is one PCI function exposed under /sys/bus/pci/devices.
// Configuration space is accessed through the "config" attribute and BARs
// through the "resourceN" files.
type PCIFunction struct {
	dir      string
	name     string
	vendorID uint16
	deviceID uint16
	class    uint32
}

// ScanPCI lists the PCI functions under root (normally SysfsPCIPath) sorted
// by address.
func ScanPCI(root string) ([]*PCIFunction, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var out []*PCIFunction
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		class, err := readSysfsHex(filepath.Join(dir, "class"), 32)
		if err != nil {
			continue
		}
		fn := &PCIFunction{
			dir:      dir,
			name:     entry.Name(),
			vendorID: uint16(readSysfsHexOr(filepath.Join(dir, "vendor"), 16)),
			deviceID: uint16(readSysfsHexOr(filepath.Join(dir, "device"), 16)),
			class:    uint32(class),
		}
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// Name returns the PCI address, e.g. "0000:00:1d.7".
func (f *PCIFunction) Name() string { return f.name }

// VendorID returns the PCI vendor ID.
func (f *PCIFunction) VendorID() uint16 { return f.vendorID }

// DeviceID returns the PCI device ID.
func (f *PCIFunction) DeviceID() uint16 { return f.deviceID }

// Class returns the 24-bit class code (base, sub-class, programming interface).
func (f *PCIFunction) Class() uint32 { return f.class & 0xFFFFFF }

// ReadConfig reads size (1, 2 or 4) bytes of configuration space at offset.
func (f *PCIFunction) ReadConfig(offset, size int) (uint32, error) {
	if err := checkConfigAccess(offset, size); err != nil {
		return 0, err
	}
	fd, err := unix.Open(filepath.Join(f.dir, "config"), unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, mapErrno(err)
	}
	defer unix.Close(fd)

	var buf [4]byte
	n, err := unix.Pread(fd, buf[:size], int64(offset))
	if err != nil {
		return 0, mapErrno(err)
	}
	if n != size {
		return 0, fmt.Errorf("%w: config read of %d bytes at 0x%02x returned %d",
			pkg.ErrUnderrun, size, offset, n)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteConfig writes size (1, 2 or 4) bytes of configuration space at offset.
func (f *PCIFunction) WriteConfig(offset, size int, value uint32) error {
	if err := checkConfigAccess(offset, size); err != nil {
		return err
	}
	fd, err := unix.Open(filepath.Join(f.dir, "config"), unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return mapErrno(err)
	}
	defer unix.Close(fd)

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if _, err := unix.Pwrite(fd, buf[:size], int64(offset)); err != nil {
		return mapErrno(err)
	}
	return nil
}

func checkConfigAccess(offset, size int) error {
	if size != 1 && size != 2 && size != 4 {
		return fmt.Errorf("%w: config access size %d", pkg.ErrInvalidParameter, size)
	}
	if offset < 0 || offset%size != 0 || offset+size > 4096 {
		return fmt.Errorf("%w: config offset 0x%x", pkg.ErrInvalidParameter, offset)
	}
	return nil
}

// MapBAR maps the memory BAR numbered bar read/write.
func (f *PCIFunction) MapBAR(bar int) (hal.Region, error) {
	if bar < 0 || bar > 5 {
		return nil, fmt.Errorf("%w: BAR %d", pkg.ErrInvalidParameter, bar)
	}
	path := filepath.Join(f.dir, fmt.Sprintf("resource%d", bar))
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, mapErrno(err)
	}
	// The mapping outlives the descriptor.
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, mapErrno(err)
	}
	if st.Size <= 0 {
		return nil, fmt.Errorf("%w: %s is empty", pkg.ErrNotSupported, path)
	}

	mem, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, mapErrno(err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "mapped PCI BAR",
		"function", f.name,
		"bar", bar,
		"size", len(mem))
	return &mmapRegion{mem: mem}, nil
}

// mmapRegion is a hal.Region backed by an mmap of a sysfs resource file.
type mmapRegion struct {
	mem []byte
}

func (r *mmapRegion) inRange(offset uint32) bool {
	return r.mem != nil && offset%4 == 0 && uint64(offset)+4 <= uint64(len(r.mem))
}

func (r *mmapRegion) Read32(offset uint32) uint32 {
	if !r.inRange(offset) {
		return 0xFFFFFFFF
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.mem[offset])))
}

func (r *mmapRegion) Write32(offset uint32, value uint32) {
	if !r.inRange(offset) {
		return
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.mem[offset])), value)
}

func (r *mmapRegion) Size() int { return len(r.mem) }

func (r *mmapRegion) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
