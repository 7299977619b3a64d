package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/notify"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/report"
	"github.com/jholhewres/leadclaw/pkg/leadclaw/store"
)

// newReportCmd creates the `leadclaw report` command group.
func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Conversation digest reports",
	}

	cmd.AddCommand(newReportSendCmd())
	return cmd
}

// newReportSendCmd sends the digest immediately instead of waiting for
// the scheduled run. Useful to verify SMTP settings.
func newReportSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Build and email the conversation digest now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer st.Close()

			emailer := notify.NewEmailer(cfg.Email, logger)
			reporter := report.New(cfg.Report, st, emailer, logger)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if err := reporter.SendReport(ctx, time.Now()); err != nil {
				return err
			}
			fmt.Println("Report sent.")
			return nil
		},
	}
}
