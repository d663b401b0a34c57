package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/config"
	"github.com/user/glasslink/transport"
	"github.com/user/glasslink/transport/bluez"
	"github.com/user/glasslink/transport/sim"
)

// env carries the global flags and the port factory shared by subcommands
type env struct {
	configPath string
	simulate   bool
	timeout    time.Duration
	logLevel   string

	newPort func(cfg *config.Config, simulate bool) transport.Port
}

func defaultPort(cfg *config.Config, simulate bool) transport.Port {
	if simulate {
		simCfg := sim.DefaultConfig()
		simCfg.MaxWrite = cfg.Link.MaxWrite
		return sim.New(simCfg)
	}
	return bluez.New()
}

// newRootCmd creates the root glassctl command with all subcommands attached.
func newRootCmd() *cobra.Command {
	return newRootCmdWithEnv(&env{newPort: defaultPort})
}

func newRootCmdWithEnv(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "glassctl",
		Short:         "Drive smart glasses over Bluetooth LE",
		Long:          "glassctl connects to a pair of smart glasses, sends text, notifications\nand images, and streams what the glasses report back.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&e.configPath, "config", "c", "", "config file (default $GLASSLINK_DIR/glasslink.yaml)")
	flags.BoolVar(&e.simulate, "sim", false, "use the built-in simulated glasses instead of the radio")
	flags.DurationVar(&e.timeout, "timeout", 30*time.Second, "how long to wait for the glasses")
	flags.StringVar(&e.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newScanCmd(e),
		newTextCmd(e),
		newNotifyCmd(e),
		newBitmapCmd(e),
		newBrightnessCmd(e),
		newClearCmd(e),
		newBatteryCmd(e),
		newRunCmd(e),
		newServeCmd(e),
		newJournalCmd(e),
		newReplayCmd(e),
		newConfigCmd(e),
	)

	return cmd
}
