package hub

import (
	"context"
	"fmt"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// FeatureRequest describes one SET_FEATURE or CLEAR_FEATURE request to a port.
type FeatureRequest struct {
	Port    int // 1-based
	Feature Feature
	Set     bool
}

// Setup returns the SETUP packet for the request.
func (r FeatureRequest) Setup() hal.SetupPacket {
	req := uint8(RequestClearFeature)
	if r.Set {
		req = RequestSetFeature
	}
	return hal.SetupPacket{
		RequestType: RequestTypePortOut,
		Request:     req,
		Value:       uint16(r.Feature),
		Index:       uint16(r.Port),
		Length:      0,
	}
}

func (r FeatureRequest) String() string {
	op := "clear"
	if r.Set {
		op = "set"
	}
	return fmt.Sprintf("%s %s on port %d", op, r.Feature, r.Port)
}

// Apply issues a feature request. The port is not validated; a failed
// transfer is reported wrapped in [pkg.ErrTransport].
func (h *Hub) Apply(ctx context.Context, r FeatureRequest) error {
	setup := r.Setup()
	if _, err := h.dev.ControlTransfer(ctx, &setup, nil); err != nil {
		pkg.LogDebug(pkg.ComponentHub, "feature request failed",
			"request", r.String(),
			"error", err)
		return fmt.Errorf("%w: %s: %w", pkg.ErrTransport, r, err)
	}
	return nil
}

// SetPortFeature issues SET_FEATURE(feature) to a 1-based port.
func (h *Hub) SetPortFeature(ctx context.Context, port int, feature Feature) error {
	return h.Apply(ctx, FeatureRequest{Port: port, Feature: feature, Set: true})
}

// ClearPortFeature issues CLEAR_FEATURE(feature) to a 1-based port.
func (h *Hub) ClearPortFeature(ctx context.Context, port int, feature Feature) error {
	return h.Apply(ctx, FeatureRequest{Port: port, Feature: feature, Set: false})
}

// GetPortStatus reads and decodes the status of a 1-based port.
func (h *Hub) GetPortStatus(ctx context.Context, port int) (PortStatus, error) {
	var buf [PortStatusSize]byte
	setup := hal.SetupPacket{
		RequestType: RequestTypePortIn,
		Request:     RequestGetStatus,
		Value:       0,
		Index:       uint16(port),
		Length:      PortStatusSize,
	}

	n, err := h.dev.ControlTransfer(ctx, &setup, buf[:])
	if err != nil {
		return PortStatus{}, fmt.Errorf("%w: port %d: %w", pkg.ErrStatusRead, port, err)
	}
	if n > len(buf) {
		return PortStatus{}, fmt.Errorf("%w: port %d status reported %d bytes, buffer holds %d",
			pkg.ErrOversizedResponse, port, n, len(buf))
	}
	st, err := ParsePortStatus(buf[:n])
	if err != nil {
		return PortStatus{}, fmt.Errorf("port %d: %w", port, err)
	}
	return st, nil
}

// PortStatuses reads every port in order. It stops at the first failure and
// returns the statuses read so far.
func (h *Hub) PortStatuses(ctx context.Context) ([]PortStatus, error) {
	out := make([]PortStatus, 0, h.numPorts)
	for port := 1; port <= h.numPorts; port++ {
		st, err := h.GetPortStatus(ctx, port)
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
	return out, nil
}
