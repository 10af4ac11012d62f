package hub

import (
	"context"
	"fmt"
	"strings"

	"github.com/ardnew/usbdiag/pkg"
)

// ResetPolicy selects when a reset cycle is accepted as successful.
type ResetPolicy int

// Reset policies.
const (
	// PolicyFirstPass accepts the first cycle whose reset request and
	// status read both complete, whatever the port reports.
	PolicyFirstPass ResetPolicy = iota

	// PolicyRequireEnabled retries until the port reports itself enabled.
	PolicyRequireEnabled
)

// String returns the configuration name of the policy.
func (p ResetPolicy) String() string {
	switch p {
	case PolicyFirstPass:
		return "first-pass"
	case PolicyRequireEnabled:
		return "require-enabled"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseResetPolicy converts a configuration name to a ResetPolicy.
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first-pass", "lenient":
		return PolicyFirstPass, nil
	case "require-enabled", "strict":
		return PolicyRequireEnabled, nil
	default:
		return PolicyFirstPass, fmt.Errorf("%w: reset policy %q", pkg.ErrInvalidParameter, s)
	}
}

// ResetState is a step of the port reset sequence.
type ResetState int

// Reset sequence states.
const (
	StateIdle ResetState = iota
	StateRequesting
	StateSettling
	StateVerifying
	StateSuccess
	StateFailed
)

// String returns a human-readable state name.
func (s ResetState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateSettling:
		return "settling"
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ResetResult is the outcome of one ResetPort call.
type ResetResult struct {
	Success  bool
	Status   PortStatus // last status read; zero if none was read
	Attempts int        // reset requests issued
	Err      error
}

// ResetPort resets a 1-based port.
//
// Each attempt requests PORT_RESET, sleeps for the settle delay without
// holding any lock, then reads the port status. A failed reset request or
// status read ends the sequence at once. Once a cycle is accepted by the
// policy, C_PORT_RESET is cleared; a failure there is logged only. If no
// cycle is accepted within MaxAttempts the result wraps
// [pkg.ErrRetryExhausted].
//
// Only one reset may run per port; a concurrent call returns [pkg.ErrBusy]
// without issuing any request.
func (h *Hub) ResetPort(ctx context.Context, port int) (ResetResult, error) {
	if err := h.validatePort(port); err != nil {
		return ResetResult{Err: err}, err
	}
	if !h.acquire(port) {
		err := fmt.Errorf("%w: reset already in progress on port %d", pkg.ErrBusy, port)
		return ResetResult{Err: err}, err
	}
	defer h.release(port)

	pkg.LogDebug(pkg.ComponentHub, "resetting port",
		"port", port,
		"policy", h.cfg.Policy.String(),
		"maxAttempts", h.cfg.MaxAttempts)

	seq := resetSequence{hub: h, port: port}
	res := seq.run(ctx)
	return res, res.Err
}

// resetSequence holds the state of one ResetPort call.
type resetSequence struct {
	hub   *Hub
	port  int
	state ResetState
}

func (s *resetSequence) enter(state ResetState) {
	pkg.LogDebug(pkg.ComponentHub, "reset state",
		"port", s.port,
		"from", s.state.String(),
		"to", state.String())
	s.state = state
}

func (s *resetSequence) run(ctx context.Context) ResetResult {
	h := s.hub
	var res ResetResult

	for res.Attempts < h.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return s.fail(res, err)
		}
		res.Attempts++

		s.enter(StateRequesting)
		if err := h.SetPortFeature(ctx, s.port, FeatureReset); err != nil {
			return s.fail(res, err)
		}

		s.enter(StateSettling)
		h.cfg.Clock.Sleep(h.cfg.SettleDelay)

		s.enter(StateVerifying)
		st, err := h.GetPortStatus(ctx, s.port)
		if err != nil {
			return s.fail(res, err)
		}
		res.Status = st

		pkg.LogDebug(pkg.ComponentHub, "port status after reset",
			"port", s.port,
			"attempt", res.Attempts,
			"status", fmt.Sprintf("0x%04x", st.Status),
			"change", fmt.Sprintf("0x%04x", st.Change))

		if s.accept(st) {
			return s.succeed(ctx, res)
		}
	}

	pkg.LogWarn(pkg.ComponentHub, "cannot enable port, disabling",
		"port", s.port,
		"attempts", res.Attempts)
	return s.fail(res, fmt.Errorf("%w: port %d not enabled after %d attempts",
		pkg.ErrRetryExhausted, s.port, res.Attempts))
}

// accept applies the reset policy to a status read.
func (s *resetSequence) accept(st PortStatus) bool {
	switch s.hub.cfg.Policy {
	case PolicyRequireEnabled:
		return st.Enabled
	default:
		if !st.Enabled {
			s.hub.lenientWarn.Do(func() {
				pkg.LogWarn(pkg.ComponentHub,
					"first-pass reset policy accepted a port that is not enabled; "+
						"use the require-enabled policy to retry instead",
					"port", s.port,
					"status", fmt.Sprintf("0x%04x", st.Status))
			})
		}
		return true
	}
}

func (s *resetSequence) succeed(ctx context.Context, res ResetResult) ResetResult {
	if err := s.hub.ClearPortFeature(ctx, s.port, FeatureChangeReset); err != nil {
		pkg.LogWarn(pkg.ComponentHub, "failed to acknowledge reset change",
			"port", s.port,
			"error", err)
	}
	s.enter(StateSuccess)
	res.Success = true
	return res
}

func (s *resetSequence) fail(res ResetResult, err error) ResetResult {
	s.enter(StateFailed)
	pkg.LogDebug(pkg.ComponentHub, "port reset failed",
		"port", s.port,
		"attempts", res.Attempts,
		"error", err)
	res.Success = false
	res.Err = err
	return res
}
