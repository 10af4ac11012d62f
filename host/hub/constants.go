package hub

import "time"

// Hub class request types (bmRequestType).
const (
	RequestTypePortOut = 0x23 // Host to device, class, recipient other (port)
	RequestTypePortIn  = 0xA3 // Device to host, class, recipient other (port)
)

// Hub class requests (bRequest).
const (
	RequestGetStatus    = 0x00
	RequestClearFeature = 0x01
	RequestSetFeature   = 0x03
)

// Feature is a hub port feature selector.
type Feature uint16

// Port feature selectors (USB 2.0 Table 11-17).
const (
	FeatureConnection       Feature = 0
	FeatureEnable           Feature = 1
	FeatureSuspend          Feature = 2
	FeatureOverCurrent      Feature = 3
	FeatureReset            Feature = 4
	FeaturePower            Feature = 8
	FeatureLowSpeed         Feature = 9
	FeatureChangeConnection Feature = 16
	FeatureChangeEnable     Feature = 17
	FeatureChangeSuspend    Feature = 18
	FeatureChangeOverCurr   Feature = 19
	FeatureChangeReset      Feature = 20
	FeatureTest             Feature = 21
	FeatureIndicator        Feature = 22
)

// String returns the selector name as written in the hub class tables.
func (f Feature) String() string {
	switch f {
	case FeatureConnection:
		return "PORT_CONNECTION"
	case FeatureEnable:
		return "PORT_ENABLE"
	case FeatureSuspend:
		return "PORT_SUSPEND"
	case FeatureOverCurrent:
		return "PORT_OVER_CURRENT"
	case FeatureReset:
		return "PORT_RESET"
	case FeaturePower:
		return "PORT_POWER"
	case FeatureLowSpeed:
		return "PORT_LOW_SPEED"
	case FeatureChangeConnection:
		return "C_PORT_CONNECTION"
	case FeatureChangeEnable:
		return "C_PORT_ENABLE"
	case FeatureChangeSuspend:
		return "C_PORT_SUSPEND"
	case FeatureChangeOverCurr:
		return "C_PORT_OVER_CURRENT"
	case FeatureChangeReset:
		return "C_PORT_RESET"
	case FeatureTest:
		return "PORT_TEST"
	case FeatureIndicator:
		return "PORT_INDICATOR"
	default:
		return "UNKNOWN"
	}
}

// wPortStatus bits.
const (
	StatusConnection  uint16 = 0x0001
	StatusEnable      uint16 = 0x0002
	StatusSuspend     uint16 = 0x0004
	StatusOverCurrent uint16 = 0x0008
	StatusReset       uint16 = 0x0010
	StatusPower       uint16 = 0x0100
	StatusLowSpeed    uint16 = 0x0200
	StatusHighSpeed   uint16 = 0x0400
	StatusSuperSpeed  uint16 = 0x0600 // speed field; SUPS reports either bit
)

// wPortChange bits.
const (
	ChangeConnection  uint16 = 0x0001
	ChangeEnable      uint16 = 0x0002
	ChangeSuspend     uint16 = 0x0004
	ChangeOverCurrent uint16 = 0x0008
	ChangeReset       uint16 = 0x0010
)

// PortStatusSize is the size of the GET_STATUS response for a port.
const PortStatusSize = 4

// Reset sequence defaults.
const (
	DefaultMaxAttempts = 5
	DefaultSettleDelay = 200 * time.Millisecond
)
