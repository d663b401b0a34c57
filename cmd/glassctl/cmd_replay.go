package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/scenario"
)

// newReplayCmd creates the "glassctl replay" subcommand.
func newReplayCmd(e *env) *cobra.Command {
	var report bool
	cmd := &cobra.Command{
		Use:   "replay <scenario.json>",
		Short: "Run a scripted scenario against simulated glasses",
		Long:  "Replay a timeline of host actions and simulated glasses behaviour,\nthen check the scenario's assertions. Link timings come from the config.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := scenario.LoadScenario(args[0])
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			opts, err := cfg.GlassesOptions()
			if err != nil {
				return err
			}
			runner, err := scenario.NewRunner(s, opts)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context(), 0)
			defer cancel()
			res, err := runner.Run(ctx)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}

			out := cmd.OutOrStdout()
			scenario.Print(out, res)
			if report {
				path, err := scenario.WriteReport(filepath.Join(cfg.DataDir, "reports"), res)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Report written to %s\n", path)
			}

			if !res.Passed() {
				failed := 0
				for _, a := range res.Assertions {
					if !a.Passed {
						failed++
					}
				}
				return fmt.Errorf("scenario %q: %d of %d assertions failed", s.Name, failed, len(res.Assertions))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&report, "report", false, "write a Markdown report to the data directory")
	return cmd
}
