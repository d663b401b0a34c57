package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/config"
	"github.com/user/glasslink/glasses"
	"github.com/user/glasslink/link"
	"github.com/user/glasslink/logger"
)

// loadConfig reads the config file and applies the logging flags
func (e *env) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := e.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(cfg.Level())
	return cfg, nil
}

// newGlasses builds the facade without connecting
func (e *env) newGlasses(cmd *cobra.Command) (*glasses.Glasses, *config.Config, error) {
	cfg, err := e.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.GlassesOptions()
	if err != nil {
		return nil, nil, err
	}
	return glasses.New(e.newPort(cfg, e.simulate), opts), cfg, nil
}

// connect starts the link and waits for it to become ready
func (e *env) connect(ctx context.Context, g *glasses.Glasses, cfg *config.Config) error {
	events, unsub := g.Subscribe()
	defer unsub()

	if err := g.Connect(cfg.Selector()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	for g.State() != link.Ready {
		select {
		case ev, ok := <-events:
			if !ok {
				return link.ErrDestroyed
			}
			if change, isState := ev.Data.(link.ConnectionStateChanged); isState && change.Error != "" {
				logger.Warn("glassctl", "%s: %s", change.To, change.Error)
			}
		case <-ctx.Done():
			return fmt.Errorf("no glasses matching %s ready within %v", cfg.Selector(), e.timeout)
		}
	}
	return nil
}

// withGlasses connects, runs fn, waits for the queue to drain and tears
// the link down.
func (e *env) withGlasses(cmd *cobra.Command, fn func(ctx context.Context, g *glasses.Glasses) error) error {
	g, cfg, err := e.newGlasses(cmd)
	if err != nil {
		return err
	}
	defer g.Destroy()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.connect(ctx, g, cfg); err != nil {
		return err
	}
	if err := fn(ctx, g); err != nil {
		return err
	}

	drainCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := g.Drain(drainCtx); err != nil {
		return fmt.Errorf("waiting for delivery: %w", err)
	}
	return nil
}
