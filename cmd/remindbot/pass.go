package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
)

func newPassCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pass",
		Short: "Run one reminder pass now and print its report as JSON",
		Long: `Run one reminder pass now and print its report as JSON.

Only one pass runs at a time inside a process. That guard does not reach
across processes: while "remindbot run" is up against the same database,
use the /runpass command instead, or the same due cards may be notified
twice.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgm, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfgm)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, passErr := a.RunPass(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(app.NewPassStatus(rep)); err != nil {
				return err
			}
			return passErr
		},
	}
}
