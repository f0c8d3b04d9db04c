package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/office365-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

// runConfigShow prints TOML unless --json is given explicitly; piping the
// TOML into a file is the common use.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		masked := *cc.Cfg
		if masked.App.ClientSecret != "" {
			masked.App.ClientSecret = "********"
		}

		return printJSON(cc.Out, masked)
	}

	return config.RenderEffective(cc.Cfg, cc.Out)
}

func newConfigInitCmd() *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := config.CreateConfig(cc.CfgPath, clientID); err != nil {
				return err
			}

			cc.Statusf("Wrote %s.\n", cc.CfgPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Azure AD application (client) ID")

	if err := cmd.MarkFlagRequired("client-id"); err != nil {
		panic(err)
	}

	return cmd
}
