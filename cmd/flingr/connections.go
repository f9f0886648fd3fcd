package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/crypto"
	"github.com/postalsys/flingr/internal/history"
	"github.com/postalsys/flingr/internal/logging"
)

// credentialFlags are shared by commands that may need SSH credentials.
type credentialFlags struct {
	user        string
	password    string
	askPassword bool
	name        string
}

// connectionFor returns the saved connection for code, or resolves it when
// nothing is saved or refresh is set. Saved credentials and name survive a
// refresh.
func (a *app) connectionFor(ctx context.Context, store *history.Store, code string, refresh bool) (connection.Connection, error) {
	saved, err := store.Get(code)
	switch {
	case err == nil && !refresh:
		a.logger.Debug("using saved connection", logging.KeyActivationCode, code)
		return saved.Connection, nil
	case errors.Is(err, crypto.ErrDecryptionFailed):
		a.logger.Warn("saved connection cannot be decrypted, resolving again",
			logging.KeyActivationCode, code, logging.KeyError, err)
		saved = nil
	case err != nil && !errors.Is(err, history.ErrNotFound):
		return connection.Connection{}, err
	}

	r, err := a.resolver()
	if err != nil {
		return connection.Connection{}, err
	}
	conn, err := r.Resolve(ctx, code, a.cfg.Lookup.Timeout, a.cfg.Lookup.PollInterval)
	if err != nil {
		return connection.Connection{}, fmt.Errorf("resolve %s: %w", code, err)
	}

	if saved != nil {
		conn = conn.WithCredentials(saved.Connection.UserName, saved.Connection.UserPassword)
		conn.ColloquialName = saved.Connection.ColloquialName
	}
	return conn, nil
}

// applyCredentials fills in user, password and name from flags, prompting
// for the password when none is known.
func applyCredentials(conn connection.Connection, f credentialFlags) (connection.Connection, error) {
	if f.name != "" {
		conn.ColloquialName = f.name
	}
	if f.user != "" && f.user != conn.UserName {
		conn = conn.WithCredentials(f.user, "")
	}
	if conn.UserName == "" {
		return conn, fmt.Errorf("no user name known for %s; pass --user", conn.ActivationCode)
	}

	switch {
	case f.password != "":
		conn.UserPassword = f.password
	case f.askPassword || conn.UserPassword == "":
		pw, err := readPassword(fmt.Sprintf("Password for %s@%s: ", conn.UserName, conn.ActivationCode))
		if err != nil {
			return conn, err
		}
		conn.UserPassword = pw
	}
	return conn, nil
}

func describeConnection(conn connection.Connection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activation code: %s\n", conn.ActivationCode)
	if conn.ColloquialName != "" {
		fmt.Fprintf(&b, "Name:            %s\n", conn.ColloquialName)
	}
	for _, ep := range conn.Endpoints() {
		fmt.Fprintf(&b, "%-16s %s\n", strings.ToUpper(ep.Name)+":", ep.HostPort())
	}
	if s := conn.UserNameSummary(); s != "" {
		fmt.Fprintln(&b, s)
	}
	return b.String()
}
