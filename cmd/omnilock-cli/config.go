package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suffix-labs/ckb-omnilock/pkg/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the omnilock config file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Generate a template configuration for later modification",
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := cmd.Flags().GetString(flagConfig)
				if err != nil {
					return err
				}
				if err := config.WriteTemplate(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "> config template written to %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Check the configuration against the node",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, closeFn, err := openService(cmd)
				if err != nil {
					return err
				}
				defer closeFn()
				deploy, err := svc.CheckConfig(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "omnilock code hash: %s\n", deploy.OmniLock.TypeHash)
				fmt.Fprintf(out, "omnilock cell dep:  %s\n", deploy.OmniLock.CellDep.OutPoint)
				fmt.Fprintf(out, "secp256k1 data dep: %s\n", deploy.Secp256k1Data.OutPoint)
				fmt.Fprintln(out, "> config ok")
				return nil
			},
		},
	)
	return cmd
}
