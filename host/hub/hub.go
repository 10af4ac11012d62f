package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/ardnew/usbdiag/host/hal"
	"github.com/ardnew/usbdiag/pkg"
)

// Transferer is the default control pipe of a single device.
type Transferer interface {
	ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error)
}

// Config controls the port reset sequence.
type Config struct {
	// MaxAttempts bounds the request/settle/verify cycles of one reset.
	MaxAttempts int

	// SettleDelay is the blocking wait between requesting a reset and
	// reading the port status back.
	SettleDelay time.Duration

	// Policy decides when a cycle counts as a successful reset.
	Policy ResetPolicy

	// Clock provides the settle sleep. Nil means the real clock.
	Clock clock.Clock
}

// DefaultConfig returns the historic reset parameters: five attempts, a
// 200 ms settle delay and first-pass acceptance.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		SettleDelay: DefaultSettleDelay,
		Policy:      PolicyFirstPass,
		Clock:       clock.RealClock{},
	}
}

// Hub drives the downstream ports of one hub device.
type Hub struct {
	dev      Transferer
	numPorts int
	cfg      Config

	// Ports with a reset sequence in progress.
	inFlight map[int]struct{}
	mutex    sync.Mutex

	lenientWarn sync.Once
}

// New creates a Hub for dev with numPorts downstream ports. A non-positive
// MaxAttempts, a negative SettleDelay or a nil Clock takes its default.
func New(dev Transferer, numPorts int, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	return &Hub{
		dev:      dev,
		numPorts: numPorts,
		cfg:      cfg,
		inFlight: make(map[int]struct{}),
	}
}

// NumPorts returns the number of downstream ports.
func (h *Hub) NumPorts() int {
	return h.numPorts
}

// Config returns the effective reset configuration.
func (h *Hub) Config() Config {
	return h.cfg
}

// validatePort checks a 1-based port number against the port count.
func (h *Hub) validatePort(port int) error {
	if port < 1 || port > h.numPorts {
		return fmt.Errorf("%w: port %d out of range [1, %d]", pkg.ErrInvalidParameter, port, h.numPorts)
	}
	return nil
}

// acquire marks port as having a reset in flight. It returns false if one is
// already running.
func (h *Hub) acquire(port int) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, busy := h.inFlight[port]; busy {
		return false
	}
	h.inFlight[port] = struct{}{}
	return true
}

func (h *Hub) release(port int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.inFlight, port)
}
