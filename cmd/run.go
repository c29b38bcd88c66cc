package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var (
		specialtyName string
		customTerms   string
		zip           string
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a single search and prints the report",
		Long: `Runs one search against the configured target and writes the report as
JSON to stdout. Progress is logged as the search advances.`,
		Example: `  findadoc-tester run --specialty Cardiology --zip 27514
  findadoc-tester run --specialty Custom --custom-terms "sleep, insomnia" --zip 27514`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if cerr := app.Close(closeCtx); cerr != nil {
					app.Logger().Warn("close failed", zap.Error(cerr))
				}
			}()

			report, err := app.RunOnce(ctx, specialtyName, customTerms, zip)
			if err != nil {
				return fmt.Errorf("run search: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&specialtyName, "specialty", "", `built-in specialty name, or "Custom"`)
	flags.StringVar(&customTerms, "custom-terms", "", "comma-separated terms for a Custom search")
	flags.StringVar(&zip, "zip", "", "ZIP code to search near")
	flags.DurationVar(&timeout, "timeout", 3*time.Minute, "overall deadline for the search (0 disables)")
	_ = cmd.MarkFlagRequired("specialty")
	return cmd
}
