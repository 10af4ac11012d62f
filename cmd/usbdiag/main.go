// Command usbdiag inspects USB devices, hub ports and EHCI host controllers.
//
// Without --sim it reads the Linux sysfs and usbfs trees, which usually
// requires root. With --sim every command runs against a simulated bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ardnew/usbdiag/config"
	"github.com/ardnew/usbdiag/pkg"
)

// options holds the persistent flags and the configuration derived from
// them.
type options struct {
	configPath string
	sim        bool
	verbose    bool
	logJSON    bool
	policy     string
	attempts   int
	settle     time.Duration
	timeout    time.Duration

	cfg config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "usbdiag",
		Short:        "USB hub, port and host controller diagnostics",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.complete(cmd.Flags())
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.BoolVar(&opts.sim, "sim", false, "use the simulated bus instead of the host's USB devices")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")
	flags.StringVar(&opts.policy, "policy", "", "port reset success policy (first-pass, require-enabled)")
	flags.IntVar(&opts.attempts, "attempts", 0, "maximum port reset attempts")
	flags.DurationVar(&opts.settle, "settle", 0, "delay between a port reset request and the status check")
	flags.DurationVar(&opts.timeout, "timeout", 0, "control transfer timeout")

	rootCmd.AddCommand(
		newDevicesCommand(opts),
		newDeviceCommand(opts),
		newPortsCommand(opts),
		newResetCommand(opts),
		newControllersCommand(opts),
		newMouseCommand(opts),
		newDevResetCommand(opts),
		newPingCommand(opts),
		newConfigCommand(opts),
	)
	return rootCmd
}

// complete loads the configuration file, applies the flags that were set
// on the command line and configures logging.
func (o *options) complete(flags *pflag.FlagSet) error {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}

	if flags.Changed("policy") {
		cfg.Reset.Policy = o.policy
	}
	if flags.Changed("attempts") {
		cfg.Reset.MaxAttempts = o.attempts
	}
	if flags.Changed("settle") {
		cfg.Reset.SettleDelay = config.Duration{Duration: o.settle}
	}
	if flags.Changed("timeout") {
		cfg.TransferTimeout = config.Duration{Duration: o.timeout}
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	if o.logJSON {
		cfg.Log.Format = "json"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Validate has already parsed both.
	level, _ := cfg.LogLevel()
	format, _ := pkg.ParseLogFormat(cfg.Log.Format)
	pkg.SetLogLevel(level)
	pkg.SetLogOutput(os.Stderr, format)

	o.cfg = cfg
	return nil
}
