package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbdiag/diag"
	"github.com/ardnew/usbdiag/host"
	"github.com/ardnew/usbdiag/pkg"
	"github.com/ardnew/usbdiag/ping"
)

func parseIndex(s, what string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s %q", pkg.ErrInvalidParameter, what, s)
	}
	return n, nil
}

func newDevicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "list attached USB devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), cmd.OutOrStdout(), func(s *session) error {
				s.printer.ShowDevices()
				return nil
			})
		},
	}
}

func newDeviceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "device <index>",
		Short: "show the descriptors of one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), cmd.OutOrStdout(), func(s *session) error {
				return s.printer.ShowDevice(index)
			})
		},
	}
}

func newPortsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports <hub-index>",
		Short: "show the port status table of a hub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "hub index")
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), cmd.OutOrStdout(), func(s *session) error {
				return s.printer.ShowPorts(cmd.Context(), index)
			})
		},
	}
}

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <hub-index> <port>",
		Short: "reset a hub port; ports are numbered from 0",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "hub index")
			if err != nil {
				return err
			}
			port, err := parseIndex(args[1], "port")
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), cmd.OutOrStdout(), func(s *session) error {
				res, err := s.printer.ResetPort(cmd.Context(), index, port)
				pkg.LogDebug(pkg.ComponentDiag, "reset finished",
					"hub", index,
					"port", port,
					"attempts", res.Attempts,
					"success", res.Success)
				return err
			})
		},
	}
}

func newControllersCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "controllers",
		Short: "dump the registers of each EHCI controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), cmd.OutOrStdout(), func(s *session) error {
				if len(s.host.Controllers()) == 0 {
					return fmt.Errorf("%w: no EHCI controller", pkg.ErrNoDevice)
				}
				s.printer.ShowControllers()
				return nil
			})
		},
	}
}

func newDevResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devreset <index>",
		Short: "ask the kernel to reset a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0], "device index")
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), cmd.OutOrStdout(), func(s *session) error {
				if s.backend.resetDevice == nil {
					return fmt.Errorf("%w: device reset on this bus", pkg.ErrNotSupported)
				}
				dev, err := s.host.Device(index)
				if err != nil {
					return err
				}
				if err := s.backend.resetDevice(dev.Address()); err != nil {
					return fmt.Errorf("reset %s: %w", dev, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  Device [%d] at %s reset.\n", index, dev.Address())
				return nil
			})
		},
	}
}

// demoMouseReports moves the simulated mouse, double clicks the left
// button and clicks the right one.
var demoMouseReports = [][]byte{
	{0x00, 0x10, 0x08},
	{0x01, 0x00, 0x00},
	{0x00, 0x00, 0x00},
	{0x01, 0x00, 0x00},
	{0x00, 0x00, 0x00},
	{0x02, 0x00, 0x00},
	{0x00, 0xF0, 0xF8},
}

func newMouseCommand(opts *options) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "mouse [index]",
		Short: "echo boot mouse events until Enter is pressed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := -1
			if len(args) == 1 {
				n, err := parseIndex(args[0], "device index")
				if err != nil {
					return err
				}
				index = n
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			return opts.withSession(ctx, cmd.OutOrStdout(), func(s *session) error {
				return echoMouse(ctx, cmd, s, index)
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 waits for Enter)")
	return cmd
}

// findMouse returns the device at index, or the first boot mouse when index
// is negative, with its interface and interrupt IN endpoint.
func findMouse(ctx context.Context, h *host.Host, index int) (*host.Device, host.InterfaceDescriptor, host.EndpointDescriptor, error) {
	devices := h.Devices()
	if index >= 0 {
		dev, err := h.Device(index)
		if err != nil {
			return nil, host.InterfaceDescriptor{}, host.EndpointDescriptor{}, err
		}
		devices = []*host.Device{dev}
	}
	for _, dev := range devices {
		cfg, err := dev.ReadConfiguration(ctx)
		if err != nil {
			pkg.LogDebug(pkg.ComponentDiag, "configuration unreadable", "device", dev.String(), "error", err)
			continue
		}
		if iface, ep, ok := cfg.BootMouse(); ok {
			return dev, iface, ep, nil
		}
	}
	return nil, host.InterfaceDescriptor{}, host.EndpointDescriptor{}, fmt.Errorf("%w: no boot mouse", pkg.ErrNoDevice)
}

func echoMouse(ctx context.Context, cmd *cobra.Command, s *session, index int) error {
	dev, iface, ep, err := findMouse(ctx, s.host, index)
	if err != nil {
		return err
	}
	if err := dev.ClaimInterface(iface.InterfaceNumber); err != nil {
		return fmt.Errorf("claim interface %d of %s: %w", iface.InterfaceNumber, dev, err)
	}
	defer func() { _ = dev.ReleaseInterface(iface.InterfaceNumber) }()

	if s.backend.mouse != nil {
		for _, r := range demoMouseReports {
			if err := s.backend.mouse.Push(r); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan diag.MouseEvent, 16)
	pollErr := make(chan error, 1)
	go func() {
		pollErr <- diag.PollMouse(ctx, dev, ep.EndpointAddress, diag.NewMouseDecoder(nil), events)
	}()
	go func() {
		// EOF on stdin is not a key press.
		if _, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n'); err != nil {
			return
		}
		select {
		case events <- diag.MouseEvent{Kind: diag.EventKey}:
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "  Echo mouse events of %s, press Enter to stop.\n", dev)
	err = s.printer.EchoMouse(ctx, events)
	cancel()
	if perr := <-pollErr; perr != nil && !isDone(perr) {
		return perr
	}
	if isDone(err) {
		return nil
	}
	return err
}

func isDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func newPingCommand(opts *options) *cobra.Command {
	var (
		count      int
		size       int
		timeout    time.Duration
		interval   time.Duration
		privileged bool
	)

	cmd := &cobra.Command{
		Use:   "ping <target>",
		Short: "send ICMP echo requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg.PingConfig(args[0])
			flags := cmd.Flags()
			if flags.Changed("count") {
				cfg.Count = count
			}
			if flags.Changed("size") {
				cfg.Size = size
			}
			if flags.Changed("wait") {
				cfg.Timeout = timeout
			}
			if flags.Changed("interval") {
				cfg.Interval = interval
			}
			if flags.Changed("privileged") {
				cfg.Privileged = privileged
			}

			stats, err := ping.Run(cmd.Context(), cfg, cmd.OutOrStdout())
			pkg.LogInfo(pkg.ComponentPing, "ping finished",
				"target", cfg.Target,
				"sent", stats.Sent,
				"received", stats.Received,
				"loss", stats.Loss())
			if isDone(err) {
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&count, "count", "c", 0, "number of requests; 0 or less pings until interrupted")
	flags.IntVarP(&size, "size", "s", 0, "payload bytes per request")
	flags.DurationVarP(&timeout, "wait", "W", 0, "time to wait for each reply")
	flags.DurationVarP(&interval, "interval", "i", 0, "delay between requests")
	flags.BoolVar(&privileged, "privileged", false, "use a raw ICMP socket instead of a datagram socket")
	return cmd
}

func newConfigCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}
