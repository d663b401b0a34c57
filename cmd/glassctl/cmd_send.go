package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/glasses"
	"github.com/user/glasslink/link"
)

// newTextCmd creates the "glassctl text" subcommand.
func newTextCmd(e *env) *cobra.Command {
	var title, right string
	cmd := &cobra.Command{
		Use:   "text <body...>",
		Short: "Show text on the display",
		Long:  "Wrap the text to the display and show its first page.\nWith --title the title is shown above the body. With --right the body\nand the --right text are shown side by side.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args, " ")
			return e.withGlasses(cmd, func(ctx context.Context, g *glasses.Glasses) error {
				switch {
				case right != "":
					return g.SendDoubleTextWall(body, right)
				case title != "":
					return g.SendText(title, body)
				default:
					return g.SendTextWall(body)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "card title")
	cmd.Flags().StringVar(&right, "right", "", "text for the right-hand column")
	return cmd
}

// newNotifyCmd creates the "glassctl notify" subcommand.
func newNotifyCmd(e *env) *cobra.Command {
	var appID, title, subtitle string
	cmd := &cobra.Command{
		Use:   "notify <message...>",
		Short: "Forward a notification",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return e.withGlasses(cmd, func(ctx context.Context, g *glasses.Glasses) error {
				return g.SendNotification(appID, title, subtitle, message)
			})
		},
	}
	cmd.Flags().StringVar(&appID, "app", "com.augment.os", "application identifier")
	cmd.Flags().StringVarP(&title, "title", "t", "", "notification title")
	cmd.Flags().StringVar(&subtitle, "subtitle", "", "notification subtitle")
	return cmd
}

// newBitmapCmd creates the "glassctl bitmap" subcommand.
func newBitmapCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "bitmap <file.bmp>",
		Short: "Show a 1-bit BMP image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("bitmap: %w", err)
			}
			var rejected bool
			err = e.withGlasses(cmd, func(ctx context.Context, g *glasses.Glasses) error {
				events, unsub := g.Subscribe()
				watched := make(chan struct{})
				go func() {
					defer close(watched)
					for ev := range events {
						if ev.Type == link.EventChecksumRejected {
							rejected = true
						}
					}
				}()
				defer func() {
					unsub()
					<-watched
				}()

				if err := g.SendBitmap(image); err != nil {
					return err
				}
				drainCtx, cancel := context.WithTimeout(ctx, e.timeout)
				defer cancel()
				return g.Drain(drainCtx)
			})
			if err != nil {
				return err
			}
			if rejected {
				return fmt.Errorf("bitmap: %w", link.ErrChecksumRejected)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d byte image\n", len(image))
			return nil
		},
	}
}

// newBrightnessCmd creates the "glassctl brightness" subcommand.
func newBrightnessCmd(e *env) *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "brightness <percent>",
		Short: "Set display brightness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			percent, err := strconv.Atoi(args[0])
			if err != nil || percent < 0 || percent > 100 {
				return fmt.Errorf("brightness: %q is not a percentage", args[0])
			}
			return e.withGlasses(cmd, func(ctx context.Context, g *glasses.Glasses) error {
				return g.SetBrightness(percent, auto)
			})
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "let the glasses adjust brightness")
	return cmd
}

// newClearCmd creates the "glassctl clear" subcommand.
func newClearCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the display",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withGlasses(cmd, func(ctx context.Context, g *glasses.Glasses) error {
				return g.ClearDisplay()
			})
		},
	}
}

// newBatteryCmd creates the "glassctl battery" subcommand.
func newBatteryCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "battery",
		Short: "Print the glasses' battery level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withGlasses(cmd, func(ctx context.Context, g *glasses.Glasses) error {
				events, unsub := g.Subscribe()
				defer unsub()
				if err := g.QueryBatteryNow(); err != nil {
					return err
				}

				timeout := time.NewTimer(e.timeout)
				defer timeout.Stop()
				for {
					select {
					case ev, ok := <-events:
						if !ok {
							return link.ErrDestroyed
						}
						if update, isBattery := ev.Data.(link.BatteryUpdated); isBattery {
							charging := ""
							if update.Charging != nil && *update.Charging {
								charging = " (charging)"
							}
							fmt.Fprintf(cmd.OutOrStdout(), "Battery: %d%%%s\n", update.Percent, charging)
							return nil
						}
					case <-timeout.C:
						return fmt.Errorf("battery: no report within %v", e.timeout)
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			})
		},
	}
}
