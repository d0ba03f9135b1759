package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/searchktools/fast-server/app"
	"github.com/searchktools/fast-server/config"
)

const flagConfig = "config"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "httpd [port] [root]",
		Short: "Serve a directory of static files",
		Long: `httpd serves regular files below a document root. Files are memory
mapped on first use and kept until they change on disk.`,
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			a, err := app.NewWithOutput(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().String(flagConfig, "", "config file (yaml, json or toml)")
	return cmd
}

// loadConfig merges the config file, environment, flags and positional
// arguments into a validated Config.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	flags := cmd.Flags()

	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			return nil, fmt.Errorf("%w: port %q is not a number", config.ErrInvalidConfig, args[0])
		}
		if err := flags.Set(config.KeyPort, args[0]); err != nil {
			return nil, err
		}
	}
	if len(args) > 1 {
		if err := flags.Set(config.KeyRoot, args[1]); err != nil {
			return nil, err
		}
	}

	v := config.NewViper()
	if path, _ := flags.GetString(flagConfig); path != "" {
		if err := config.ReadFile(v, path); err != nil {
			return nil, err
		}
	}
	if err := config.BindFlags(v, flags); err != nil {
		return nil, err
	}
	return config.Load(v)
}
