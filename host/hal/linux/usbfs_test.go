//go:build linux

package linux

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbdiag/pkg"
)

func TestMapErrno(t *testing.T) {
	tests := []struct {
		errno unix.Errno
		want  error
	}{
		{unix.EPIPE, pkg.ErrStall},
		{unix.ETIMEDOUT, pkg.ErrTimeout},
		{unix.ENODEV, pkg.ErrNoDevice},
		{unix.ENOENT, pkg.ErrNoDevice},
		{unix.EACCES, pkg.ErrPermission},
		{unix.EOVERFLOW, pkg.ErrOverrun},
		{unix.EBUSY, pkg.ErrBusy},
		{unix.EPROTO, pkg.ErrProtocol},
	}
	for _, tt := range tests {
		err := mapErrno(tt.errno)
		if !errors.Is(err, tt.want) {
			t.Errorf("mapErrno(%v) = %v, want %v", tt.errno, err, tt.want)
		}
		if !errors.Is(err, tt.errno) {
			t.Errorf("mapErrno(%v) lost the errno", tt.errno)
		}
	}

	other := errors.New("other")
	if got := mapErrno(other); got != other {
		t.Errorf("mapErrno(non-errno) = %v, want unchanged", got)
	}
}

func TestTransferTimeout(t *testing.T) {
	got, err := transferTimeout(context.Background(), 3*time.Second)
	if err != nil || got != 3*time.Second {
		t.Errorf("no deadline: %v, %v", got, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	got, err = transferTimeout(ctx, 3*time.Second)
	if err != nil || got <= 59*time.Minute {
		t.Errorf("hour deadline: %v, %v", got, err)
	}

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	if _, err := transferTimeout(done, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: %v", err)
	}
}

func TestMillis(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want uint32
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Microsecond, 1},
		{1500 * time.Millisecond, 1500},
	}
	for _, tt := range tests {
		if got := millis(tt.d); got != tt.want {
			t.Errorf("millis(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
