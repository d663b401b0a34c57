package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/journal"
	"github.com/user/glasslink/relay"
)

// newServeCmd creates the "glassctl serve" subcommand.
func newServeCmd(e *env) *cobra.Command {
	var (
		listen   string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay events and commands over HTTP and WebSocket",
		Long:  "Keep the glasses connected and expose them on a local HTTP server.\nEvents stream on /ws; commands are accepted on /api/*.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, cfg, err := e.newGlasses(cmd)
			if err != nil {
				return err
			}
			defer g.Destroy()
			if listen == "" {
				listen = cfg.Relay.Listen
			}

			ctx, cancel := signalContext(cmd.Context(), duration)
			defer cancel()

			stopJournal := journal.New(cfg.DataDir, g.Info().Session, true).Attach(g.Link().Bus())
			defer stopJournal()

			srv := relay.NewServer(g)
			served := make(chan error, 1)
			go func() { served <- srv.ListenAndServe(listen) }()

			if err := g.Connect(cfg.Selector()); err != nil {
				srv.Shutdown(context.Background())
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Relaying %s on %s\n", cfg.Selector(), listen)

			select {
			case err := <-served:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (default: until interrupted)")
	return cmd
}
