package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"InsightDigest/internal/app"
	"InsightDigest/internal/config"
	"InsightDigest/internal/domain"
)

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted schedule and recent sends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			status, err := app.ReadStatus(cmd.Context(), cfg)
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No schedule yet: it is created on the first run.")
				return nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			loc := cfg.Scheduler.Location()
			fmt.Fprintln(out, "InsightDigest Status")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "  Recipients: %s (key %s)\n", strings.Join(cfg.Report.Recipients, ", "), status.Key)
			fmt.Fprintf(out, "  Cadence:    %s\n", status.Schedule.Cadence.Title())
			fmt.Fprintf(out, "  Anchor:     %s\n", status.Schedule.AnchorDate.Format(time.DateOnly))
			fmt.Fprintf(out, "  Last run:   %s\n", formatOptional(status.Schedule.LastRunAt, loc))
			fmt.Fprintf(out, "  Next due:   %s\n", status.Schedule.NextDueAt.In(loc).Format(time.RFC1123))
			fmt.Fprintf(out, "  Version:    %d\n", status.Schedule.Version)

			fmt.Fprintf(out, "\nRecent sends (%d):\n", len(status.Sends))
			for _, rec := range status.Sends {
				fmt.Fprintf(out, "  %s  %s\n", rec.SentAt.In(loc).Format(time.RFC3339), shortFingerprint(rec.Fingerprint))
			}
			return nil
		},
	}
}

func shortFingerprint(fingerprint string) string {
	const width = 12
	if len(fingerprint) <= width {
		return fingerprint
	}
	return fingerprint[:width]
}

func formatOptional(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "never"
	}
	return t.In(loc).Format(time.RFC1123)
}
