package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func resolveCmd(opts *globalOptions) *cobra.Command {
	var (
		creds credentialFlags
		save  bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <activation-code>",
		Short: "Look up the addresses behind an activation code",
		Long: `Resolve an activation code through the lookup service and print the
host's endpoints. With --save the connection is stored in history together
with the SSH credentials, so later sends need only the code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			conn, err := a.connectionFor(ctx, store, args[0], true)
			if err != nil {
				return err
			}

			if save {
				if conn, err = applyCredentials(conn, creds); err != nil {
					return err
				}
				if _, err := store.Save(conn); err != nil {
					return fmt.Errorf("failed to save connection: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, describeConnection(conn))
			if save {
				fmt.Fprintln(out, "Saved to history.")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&save, "save", false, "Save the connection and credentials to history")
	flags.StringVarP(&creds.user, "user", "u", "", "SSH user name (with --save)")
	flags.StringVarP(&creds.password, "password", "p", "", "SSH password (with --save; prompted when omitted)")
	flags.StringVarP(&creds.name, "name", "n", "", "Friendly name for the saved connection")

	return cmd
}
