package main

import (
	"github.com/spf13/cobra"

	"remindbot/internal/config"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "remindbot",
		Short:         "Telegram reminder bot for recurring work items",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "config file (.json, .yaml or .toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before the config")

	cmd.AddCommand(
		newRunCmd(opts),
		newPassCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Manager, error) {
	m := config.NewManager(o.configPath)
	if _, err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}
