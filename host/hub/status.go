package hub

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// PortStatus is one decoded reading of a hub port's wPortStatus and
// wPortChange words.
type PortStatus struct {
	Status uint16 // wPortStatus, host order
	Change uint16 // wPortChange, host order

	Connected   bool
	Enabled     bool
	Suspended   bool
	OverCurrent bool
	Resetting   bool
	Powered     bool
	LowSpeed    bool
	HighSpeed   bool
	SuperSpeed  bool

	ConnectionChange  bool
	EnableChange      bool
	SuspendChange     bool
	OverCurrentChange bool
	ResetChange       bool
}

// DecodePortStatus decodes host-order status and change words. Bits outside
// the recognised masks are kept in Status/Change but otherwise ignored.
func DecodePortStatus(status, change uint16) PortStatus {
	return PortStatus{
		Status: status,
		Change: change,

		Connected:   status&StatusConnection != 0,
		Enabled:     status&StatusEnable != 0,
		Suspended:   status&StatusSuspend != 0,
		OverCurrent: status&StatusOverCurrent != 0,
		Resetting:   status&StatusReset != 0,
		Powered:     status&StatusPower != 0,
		LowSpeed:    status&StatusLowSpeed != 0,
		HighSpeed:   status&StatusHighSpeed != 0,
		SuperSpeed:  status&StatusSuperSpeed != 0,

		ConnectionChange:  change&ChangeConnection != 0,
		EnableChange:      change&ChangeEnable != 0,
		SuspendChange:     change&ChangeSuspend != 0,
		OverCurrentChange: change&ChangeOverCurrent != 0,
		ResetChange:       change&ChangeReset != 0,
	}
}

// ParsePortStatus decodes a GET_STATUS response. The two words are
// little-endian on the wire; trailing bytes are ignored.
func ParsePortStatus(data []byte) (PortStatus, error) {
	if len(data) < PortStatusSize {
		return PortStatus{}, fmt.Errorf("%w: short response (%d bytes)", pkg.ErrStatusRead, len(data))
	}
	return DecodePortStatus(
		binary.LittleEndian.Uint16(data[0:2]),
		binary.LittleEndian.Uint16(data[2:4]),
	), nil
}

// Flags returns the fourteen decoded flags in table order: CONN ENAB SUSP
// OVER REST POWR LOSP HISP SUPS C_CO C_EN C_SU C_OV C_RE.
func (s PortStatus) Flags() [14]bool {
	return [14]bool{
		s.Connected, s.Enabled, s.Suspended, s.OverCurrent, s.Resetting,
		s.Powered, s.LowSpeed, s.HighSpeed, s.SuperSpeed,
		s.ConnectionChange, s.EnableChange, s.SuspendChange,
		s.OverCurrentChange, s.ResetChange,
	}
}

// Speed returns the attached device speed implied by the status word.
func (s PortStatus) Speed() hal.Speed {
	if !s.Connected {
		return hal.SpeedUnknown
	}
	switch s.Status & StatusSuperSpeed {
	case StatusSuperSpeed:
		return hal.SpeedSuper
	case StatusHighSpeed:
		return hal.SpeedHigh
	case StatusLowSpeed:
		return hal.SpeedLow
	default:
		return hal.SpeedFull
	}
}

// String returns a compact description such as
// "status=0x0103 change=0x0000 [connected enabled powered]".
func (s PortStatus) String() string {
	names := [...]string{
		"connected", "enabled", "suspended", "overcurrent", "resetting",
		"powered", "lowspeed", "highspeed", "superspeed",
		"c_connection", "c_enable", "c_suspend", "c_overcurrent", "c_reset",
	}
	var set []string
	for i, on := range s.Flags() {
		if on {
			set = append(set, names[i])
		}
	}
	return fmt.Sprintf("status=0x%04x change=0x%04x [%s]", s.Status, s.Change, strings.Join(set, " "))
}
