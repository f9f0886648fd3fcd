package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/flingr/internal/history"
	"github.com/postalsys/flingr/internal/logging"
	"github.com/postalsys/flingr/internal/transfer"
)

// errCancelled is returned when the user interrupts a transfer.
var errCancelled = errors.New("transfer cancelled")

func sendCmd(opts *globalOptions) *cobra.Command {
	var (
		creds      credentialFlags
		remoteName string
		refresh    bool
		noSave     bool
	)

	cmd := &cobra.Command{
		Use:   "send <activation-code> <file>",
		Short: "Upload a file to the host behind an activation code",
		Long: `Send uploads one file over SFTP. The host's local address is tried
first and its WAN address second. Press Ctrl-C to cancel; a partially
written remote file is removed.

A successful send saves the connection to history unless --no-save is set.`,
		Args: cobra.ExactArgs(2),
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

			conn, err := a.connectionFor(ctx, store, args[0], refresh)
			if err != nil {
				return err
			}
			if conn, err = applyCredentials(conn, creds); err != nil {
				return err
			}

			path := args[1]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}

			name := remoteName
			if name == "" {
				name = a.cfg.Transfer.RemoteName
			}
			if name == "" {
				name = filepath.Base(path)
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}
			stopHealth := a.startHealth(engineStats{engine})
			defer stopHealth()

			errOut := cmd.ErrOrStderr()
			fmt.Fprintf(errOut, "Sending %s (%s) as %s\n", filepath.Base(path), transfer.FormatSize(info.Size()), name)

			progress := newProgressPrinter(errOut, info.Size(), isTerminal(os.Stderr.Fd()))
			started := time.Now()
			out := <-engine.SendAsync(ctx, conn, f, info.Size(), name, progress.update)
			progress.finish()

			a.recordOutcome(store, conn.ActivationCode, name, info.Size(), out, started)
			if out.Status == transfer.Succeeded && !noSave {
				if _, err := store.Save(conn); err != nil {
					a.logger.Warn("failed to save connection", logging.KeyError, err)
				} else if err := store.MarkUsed(conn.ActivationCode); err != nil {
					a.logger.Warn("failed to mark connection used", logging.KeyError, err)
				}
			}

			return reportOutcome(cmd.OutOrStdout(), out)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&creds.user, "user", "u", "", "SSH user name (default: saved user)")
	flags.StringVarP(&creds.password, "password", "p", "", "SSH password (default: saved password, else prompt)")
	flags.BoolVar(&creds.askPassword, "ask-password", false, "Prompt for the password even if one is saved")
	flags.StringVarP(&creds.name, "name", "n", "", "Friendly name to save with the connection")
	flags.StringVarP(&remoteName, "remote-name", "r", "", "Remote file name (default: config, else local base name)")
	flags.BoolVar(&refresh, "refresh", false, "Resolve the code again even if it is saved")
	flags.BoolVar(&noSave, "no-save", false, "Do not save the connection to history")

	return cmd
}

func (a *app) recordOutcome(store *history.Store, code, name string, size int64, out transfer.Outcome, started time.Time) {
	if out.TransferID == "" {
		return
	}
	if err := store.RecordTransfer(history.RecordFromOutcome(code, name, size, out, started)); err != nil {
		a.logger.Warn("failed to record transfer", logging.KeyTransferID, out.TransferID, logging.KeyError, err)
	}
}

func reportOutcome(w io.Writer, out transfer.Outcome) error {
	switch out.Status {
	case transfer.Succeeded:
		fmt.Fprintf(w, "Sent %s via %s endpoint in %s\n",
			transfer.FormatSize(out.Bytes), out.Endpoint, out.Duration.Round(time.Millisecond))
		return nil
	case transfer.Cancelled:
		return errCancelled
	default:
		return fmt.Errorf("transfer failed: %s", failureHint(out.Reason))
	}
}

func failureHint(reason transfer.Reason) string {
	switch reason {
	case transfer.ReasonConnection:
		return "could not connect to the host (check that it is online and the credentials are right)"
	case transfer.ReasonChannel:
		return "connected, but the host refused the file channel or remote file"
	case transfer.ReasonTransfer:
		return "the connection broke while the file was being written"
	default:
		return string(reason)
	}
}
