package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/glasslink/journal"
)

// newJournalCmd creates the "glassctl journal" subcommand.
func newJournalCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "journal [session|file]",
		Short: "List sessions or print a session's events",
		Long:  "Without arguments, list the journaled sessions in the data directory.\nGiven a session prefix or a journal file, print its events.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				dirs, err := os.ReadDir(cfg.DataDir)
				if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("journal: %w", err)
				}
				found := 0
				for _, d := range dirs {
					path := filepath.Join(cfg.DataDir, d.Name(), journal.FileName)
					info, err := os.Stat(path)
					if !d.IsDir() || err != nil {
						continue
					}
					found++
					fmt.Fprintf(out, "%s  %s  %d bytes\n", d.Name(), info.ModTime().Format(time.RFC3339), info.Size())
				}
				if found == 0 {
					fmt.Fprintf(out, "No sessions in %s\n", cfg.DataDir)
				}
				return nil
			}

			path := args[0]
			if _, err := os.Stat(path); err != nil {
				path = filepath.Join(cfg.DataDir, strings.TrimSpace(args[0]), journal.FileName)
			}
			entries, err := journal.Read(path)
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			for _, entry := range entries {
				at := time.Unix(0, entry.Timestamp).UTC().Format("15:04:05.000")
				fmt.Fprintf(out, "%s  %-18s %s\n", at, entry.Event, entry.Data)
			}
			return nil
		},
	}
}
