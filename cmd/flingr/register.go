package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/resolver"
)

func registerCmd(opts *globalOptions) *cobra.Command {
	var reg resolver.Registration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish this host's addresses and get an activation code",
		Long: `Register publishes the addresses where this host accepts SFTP uploads.
The lookup service answers with the activation code senders should use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reg.WANAddress == "" || !connection.ValidPort(reg.WANPort) {
				return fmt.Errorf("--wan-address and a valid --wan-port are required")
			}
			if reg.LocalPort != 0 && !connection.ValidPort(reg.LocalPort) {
				return fmt.Errorf("invalid --lan-port %d", reg.LocalPort)
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			client, err := a.lookupClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Lookup.RequestTimeout)
			defer cancel()

			code, err := client.Register(ctx, reg)
			if err != nil {
				return fmt.Errorf("failed to register: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Activation code: %s\n", code)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&reg.WANAddress, "wan-address", "", "Public address senders reach from outside the LAN")
	flags.IntVar(&reg.WANPort, "wan-port", 0, "Public SSH port")
	flags.StringVar(&reg.LocalAddress, "lan-address", "", "LAN address (optional)")
	flags.IntVar(&reg.LocalPort, "lan-port", 22, "LAN SSH port")

	return cmd
}

func unregisterCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <activation-code>",
		Short: "Withdraw a host registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			client, err := a.lookupClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Lookup.RequestTimeout)
			defer cancel()

			if err := client.Unregister(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to unregister: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s\n", args[0])
			return nil
		},
	}
}
