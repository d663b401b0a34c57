package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/journal"
	"github.com/user/glasslink/link"
)

// signalContext ends on SIGINT/SIGTERM or after duration when positive
func signalContext(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if duration <= 0 {
		return ctx, stop
	}
	timed, cancel := context.WithTimeout(ctx, duration)
	return timed, func() {
		cancel()
		stop()
	}
}

// newRunCmd creates the "glassctl run" subcommand.
func newRunCmd(e *env) *cobra.Command {
	var (
		duration  time.Duration
		noJournal bool
		audio     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stay connected and print events as JSON lines",
		Long:  "Connect, keep the link alive with heartbeats and reconnects, and print\nevery event the glasses raise. Events are also journaled under the data\ndirectory unless --no-journal is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, cfg, err := e.newGlasses(cmd)
			if err != nil {
				return err
			}
			defer g.Destroy()

			ctx, cancel := signalContext(cmd.Context(), duration)
			defer cancel()

			j := journal.New(cfg.DataDir, g.Info().Session, !noJournal)
			stopJournal := j.Attach(g.Link().Bus())
			defer stopJournal()

			events, unsub := g.Subscribe()
			defer unsub()

			if err := g.Connect(cfg.Selector()); err != nil {
				return err
			}
			if path := j.Path(); path != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Journal: %s\n", path)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if ev.Type == link.EventAudio && !audio {
						continue
					}
					if err := enc.Encode(ev); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (default: until interrupted)")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "do not write the event journal")
	cmd.Flags().BoolVar(&audio, "audio", false, "include microphone frames in the output")
	return cmd
}
