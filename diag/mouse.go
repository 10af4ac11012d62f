package diag

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"

	"github.com/ardnew/usbdiag/pkg"
)

// EventKind is the type of a mouse event.
type EventKind int

// Mouse event kinds.
const (
	EventMove EventKind = iota
	EventLeftDown
	EventLeftUp
	EventRightDown
	EventRightUp
	EventLeftDoubleClick
	EventRightDoubleClick
	// EventKey ends EchoMouse.
	EventKey
)

// String returns the phrase EchoMouse prints for the event.
func (k EventKind) String() string {
	switch k {
	case EventMove:
		return "Mouse is moving"
	case EventLeftDown:
		return "Left button down"
	case EventLeftUp:
		return "Left button up"
	case EventRightDown:
		return "Right button down"
	case EventRightUp:
		return "Right button up"
	case EventLeftDoubleClick:
		return "Left button double clicked"
	case EventRightDoubleClick:
		return "Right button double clicked"
	case EventKey:
		return "Key pressed"
	default:
		return "Unknown event"
	}
}

// MouseEvent is a decoded mouse event with the pointer position after it.
type MouseEvent struct {
	Kind EventKind
	X, Y int
}

// DoubleClickInterval is the longest gap between two presses of the same
// button that counts as a double click.
const DoubleClickInterval = 500 * time.Millisecond

// Boot protocol button bits.
const (
	buttonLeft  = 0x01
	buttonRight = 0x02
)

const maxPosition = 0xFFFF

// MouseDecoder converts boot-protocol reports into events. It tracks an
// absolute position clamped to [0, 0xFFFF] on both axes.
type MouseDecoder struct {
	clock   clock.Clock
	x, y    int
	buttons uint8
	// lastDown holds the time of the last single press per button.
	lastDown map[uint8]time.Time
}

// NewMouseDecoder returns a decoder starting at (0, 0). A nil clock means
// the real clock.
func NewMouseDecoder(clk clock.Clock) *MouseDecoder {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MouseDecoder{clock: clk, lastDown: make(map[uint8]time.Time)}
}

// Position returns the current pointer position.
func (d *MouseDecoder) Position() (x, y int) {
	return d.x, d.y
}

// Decode consumes one report: buttons, signed dx, signed dy and optional
// trailing bytes. A move event comes first, followed by one event per
// button whose state changed. Reports shorter than three bytes yield no
// events.
func (d *MouseDecoder) Decode(report []byte) []MouseEvent {
	if len(report) < 3 {
		return nil
	}
	var events []MouseEvent

	dx, dy := int(int8(report[1])), int(int8(report[2]))
	if dx != 0 || dy != 0 {
		d.x = clamp(d.x + dx)
		d.y = clamp(d.y + dy)
		events = append(events, d.event(EventMove))
	}

	buttons := report[0] & (buttonLeft | buttonRight)
	changed := buttons ^ d.buttons
	d.buttons = buttons
	if changed&buttonLeft != 0 {
		events = append(events, d.button(buttonLeft, buttons&buttonLeft != 0))
	}
	if changed&buttonRight != 0 {
		events = append(events, d.button(buttonRight, buttons&buttonRight != 0))
	}
	return events
}

func (d *MouseDecoder) button(b uint8, down bool) MouseEvent {
	up, press, double := EventLeftUp, EventLeftDown, EventLeftDoubleClick
	if b == buttonRight {
		up, press, double = EventRightUp, EventRightDown, EventRightDoubleClick
	}
	if !down {
		return d.event(up)
	}

	now := d.clock.Now()
	last, ok := d.lastDown[b]
	if ok && now.Sub(last) <= DoubleClickInterval {
		// A third press starts a new sequence.
		delete(d.lastDown, b)
		return d.event(double)
	}
	d.lastDown[b] = now
	return d.event(press)
}

func (d *MouseDecoder) event(k EventKind) MouseEvent {
	return MouseEvent{Kind: k, X: d.x, Y: d.y}
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > maxPosition:
		return maxPosition
	default:
		return v
	}
}

// ReportSource reads interrupt IN reports. *host.Device implements it.
type ReportSource interface {
	InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error)
}

// PollMouse reads reports from endpoint and sends the decoded events to out
// until ctx is done or a read fails. Read timeouts are not failures; a
// mouse that is not moving simply has nothing to report.
func PollMouse(ctx context.Context, src ReportSource, endpoint uint8, dec *MouseDecoder, out chan<- MouseEvent) error {
	buf := make([]byte, 8)
	for {
		n, err := src.InterruptTransfer(ctx, endpoint, buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, pkg.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		for _, ev := range dec.Decode(buf[:n]) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
