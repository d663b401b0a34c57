package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/transport"
)

// newScanCmd creates the "glassctl scan" subcommand.
func newScanCmd(e *env) *cobra.Command {
	var (
		duration time.Duration
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List advertising glasses",
		Long:  "Scan for glasses matching the configured name prefix or address.\nWith --all every advertising device is listed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig(cmd)
			if err != nil {
				return err
			}
			port := e.newPort(cfg, e.simulate)
			defer port.Disconnect()

			sel := cfg.Selector()
			if all {
				sel = transport.Selector{}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()
			devices, err := port.Scan(ctx, sel.Match)
			if err != nil {
				if errors.Is(err, transport.ErrUnavailable) {
					return fmt.Errorf("scan: bluetooth is unavailable: %w", err)
				}
				return fmt.Errorf("scan: %w", err)
			}

			out := cmd.OutOrStdout()
			seen := make(map[string]bool)
			for dev := range devices {
				if seen[dev.Address] {
					continue
				}
				seen[dev.Address] = true
				fmt.Fprintf(out, "%-20s %-24s %4d dBm\n", dev.Address, dev.Name, dev.RSSI)
			}
			if len(seen) == 0 {
				fmt.Fprintf(out, "No glasses matching %s found\n", sel)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "how long to scan")
	cmd.Flags().BoolVar(&all, "all", false, "list every advertising device")
	return cmd
}
