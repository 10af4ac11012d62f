package ping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"k8s.io/utils/clock"

	"github.com/ardnew/usbdiag/pkg"
)

// protocolICMP is the IANA protocol number of ICMP for IPv4.
const protocolICMP = 1

// maxReplySize bounds a received echo reply.
const maxReplySize = 1500

// MaxSize is the largest payload that fits one IPv4 datagram.
const MaxSize = 65507

// Config holds ping parameters.
type Config struct {
	// Target is a host name or IPv4 address.
	Target string
	// Count is the number of requests to send; zero or less runs until the
	// context is cancelled.
	Count int
	// Size is the payload length in bytes.
	Size int
	// Timeout bounds the wait for each reply.
	Timeout time.Duration
	// Interval separates successive requests.
	Interval time.Duration
	// ID is the ICMP echo identifier.
	ID uint16
	// Privileged selects a raw socket over a datagram socket.
	Privileged bool
}

// DefaultConfig returns four 32 byte pings, one second apart, each with a
// one second timeout.
func DefaultConfig() Config {
	return Config{
		Count:    4,
		Size:     32,
		Timeout:  time.Second,
		Interval: time.Second,
		ID:       0xAFAF,
	}
}

// Validate rejects settings Run cannot honour.
func (c Config) Validate() error {
	switch {
	case c.Size < 0 || c.Size > MaxSize:
		return fmt.Errorf("%w: size %d outside [0, %d]", pkg.ErrInvalidParameter, c.Size, MaxSize)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout %s must be positive", pkg.ErrInvalidParameter, c.Timeout)
	case c.Interval < 0:
		return fmt.Errorf("%w: interval %s < 0", pkg.ErrInvalidParameter, c.Interval)
	}
	return nil
}

// Statistics summarises a run.
type Statistics struct {
	Sent     int
	Received int
	RTTs     []time.Duration
}

// Loss returns the fraction of requests without a reply.
func (s Statistics) Loss() float64 {
	if s.Sent == 0 {
		return 0
	}
	return float64(s.Sent-s.Received) / float64(s.Sent)
}

// Pinger sends echo requests over an established packet connection.
type Pinger struct {
	cfg   Config
	conn  net.PacketConn
	dst   net.Addr
	w     io.Writer
	clock clock.Clock
	seq   uint16
}

// New returns a Pinger sending to dst over conn and printing to w. A nil
// clock means the real clock.
func New(cfg Config, conn net.PacketConn, dst net.Addr, w io.Writer, clk clock.Clock) *Pinger {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Pinger{cfg: cfg, conn: conn, dst: dst, w: w, clock: clk}
}

// Listen opens the ICMP socket selected by cfg.Privileged.
func Listen(cfg Config) (net.PacketConn, error) {
	network := "udp4"
	if cfg.Privileged {
		network = "ip4:icmp"
	}
	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", network, err)
	}
	return conn, nil
}

// Resolve returns the destination address for cfg.Target in the form the
// socket type expects.
func Resolve(cfg Config) (net.Addr, error) {
	ip, err := net.ResolveIPAddr("ip4", cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", pkg.ErrInvalidParameter, cfg.Target, err)
	}
	if cfg.Privileged {
		return ip, nil
	}
	return &net.UDPAddr{IP: ip.IP}, nil
}

// Run resolves cfg.Target, opens a socket and pings it.
func Run(ctx context.Context, cfg Config, w io.Writer) (Statistics, error) {
	if err := cfg.Validate(); err != nil {
		return Statistics{}, err
	}
	dst, err := Resolve(cfg)
	if err != nil {
		return Statistics{}, err
	}
	conn, err := Listen(cfg)
	if err != nil {
		return Statistics{}, err
	}
	defer conn.Close()
	return New(cfg, conn, dst, w, nil).Run(ctx)
}

// Run sends cfg.Count requests, waiting cfg.Interval between them. It
// returns early with the context's error when ctx is done.
func (p *Pinger) Run(ctx context.Context) (Statistics, error) {
	var stats Statistics
	if err := p.cfg.Validate(); err != nil {
		return stats, err
	}
	fmt.Fprintf(p.w, "\n  Ping %s with %d bytes packet:\n", hostOf(p.dst), p.cfg.Size)

	for n := 0; p.cfg.Count <= 0 || n < p.cfg.Count; n++ {
		if n > 0 && p.cfg.Interval > 0 {
			p.clock.Sleep(p.cfg.Interval)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rtt, size, err := p.Once(ctx)
		switch {
		case errors.Is(err, pkg.ErrTransport):
			fmt.Fprintf(p.w, "   ping : Send out packet failed.\n")
			continue
		case errors.Is(err, pkg.ErrTimeout):
			stats.Sent++
			fmt.Fprintf(p.w, "  Request timeout.\n")
			continue
		case err != nil:
			stats.Sent++
			return stats, err
		}
		stats.Sent++
		stats.Received++
		stats.RTTs = append(stats.RTTs, rtt)
		fmt.Fprintf(p.w, "  Reply from %s,size = %d,time = %d(ms)\n", hostOf(p.dst), size, rtt.Milliseconds())
	}
	return stats, nil
}

// Once sends one echo request and waits for its reply. A send failure wraps
// pkg.ErrTransport and a missing reply wraps pkg.ErrTimeout.
//
// size is the length a recvfrom on the socket would report: a raw socket
// delivers the IPv4 header, which the net package strips, so it is added
// back for privileged pings.
func (p *Pinger) Once(ctx context.Context) (rtt time.Duration, size int, err error) {
	p.seq++
	seq := p.seq

	msg, err := p.echo(seq).Marshal(nil)
	if err != nil {
		return 0, 0, err
	}

	sent := p.clock.Now()
	if _, err := p.conn.WriteTo(msg, p.dst); err != nil {
		pkg.LogDebug(pkg.ComponentPing, "send failed", "target", p.dst.String(), "seq", seq, "error", err)
		return 0, 0, fmt.Errorf("%w: %w", pkg.ErrTransport, err)
	}

	deadline := sent.Add(p.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, 0, err
	}

	buf := make([]byte, maxReplySize)
	for {
		n, from, err := p.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return 0, 0, fmt.Errorf("%w: seq %d", pkg.ErrTimeout, seq)
			}
			return 0, 0, err
		}
		if p.matches(buf[:n], seq) {
			if p.cfg.Privileged {
				n += ipv4.HeaderLen
			}
			return p.clock.Since(sent), n, nil
		}
		pkg.LogDebug(pkg.ComponentPing, "dropped reply", "from", from.String(), "seq", seq, "bytes", n)
	}
}

func (p *Pinger) echo(seq uint16) *icmp.Message {
	data := make([]byte, p.cfg.Size)
	for i := range data {
		data[i] = byte(i)
	}
	return &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: int(p.cfg.ID), Seq: int(seq), Data: data},
	}
}

// matches reports whether b is the reply to seq. Datagram sockets have
// their identifier rewritten by the kernel, so only the raw socket checks
// it.
func (p *Pinger) matches(b []byte, seq uint16) bool {
	msg, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil || msg.Type != ipv4.ICMPTypeEchoReply {
		return false
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok || echo.Seq != int(seq) {
		return false
	}
	return !p.cfg.Privileged || echo.ID == int(p.cfg.ID)
}

func hostOf(a net.Addr) string {
	switch a := a.(type) {
	case *net.IPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	default:
		return a.String()
	}
}
