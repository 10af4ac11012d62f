//go:build linux && (mips || mipsle || mips64 || mips64le || ppc || ppc64 || ppc64le || sparc64)

package linux

// Direction bits on architectures with a 13-bit size field.
const (
	iocNone  = 1
	iocRead  = 2
	iocWrite = 4

	iocDirShift = 29
)
