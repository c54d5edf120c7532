package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/config"
	logx "remindbot/pkg/logx"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The bot token is not needed here, so skip full validation.
			cfg, err := config.NewManager(opts.configPath).Read()
			if err != nil {
				return err
			}
			driver, v, err := app.Migrate(cmd.Context(), cfg, logx.NewConsole(cfg.Logging.Level))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", driver, v)
			return nil
		},
	}
}
