package main

import (
	"context"
	"fmt"
	"log/slog"

	"hadydotai/beacon/admission"
	"hadydotai/beacon/config"
	"hadydotai/beacon/escalation"
	"hadydotai/beacon/firebase"
	"hadydotai/beacon/ingest"
	"hadydotai/beacon/store/sqlite"
)

// collaborators are the external services the ingest path talks to, picked
// by configuration.
type collaborators struct {
	store     ingest.Store
	verifier  admission.Verifier
	directory escalation.Directory
	notifier  escalation.Notifier
	closers   []func() error
}

func (c *collaborators) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func buildCollaborators(ctx context.Context, cfg config.Config, logger *slog.Logger) (*collaborators, error) {
	c := &collaborators{}

	var app *firebase.App
	if cfg.UsesFirebase() {
		var err error
		app, err = firebase.NewApp(ctx, firebase.Config{
			CredentialsFile: cfg.Firebase.CredentialsFile,
			DatabaseURL:     cfg.Firebase.DatabaseURL,
			ProjectID:       cfg.Firebase.ProjectID,
		})
		if err != nil {
			return nil, err
		}
	}

	var local *sqlite.Store
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		local = s
		c.store = s
		c.closers = append(c.closers, s.Close)
	case "firebase":
		s, err := app.Store(ctx, cfg.Firebase.EventsPath)
		if err != nil {
			return nil, err
		}
		c.store = s
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	switch cfg.Auth.Provider {
	case "static":
		tokens := cfg.Auth.StaticTokens()
		if len(tokens) == 0 {
			logger.Warn("static auth has no tokens; guarded routes will reject every request")
		}
		c.verifier = admission.NewStaticVerifier(tokens)
	case "firebase":
		a, err := app.Authenticator(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.verifier = a
	}

	switch cfg.Escalation.Directory {
	case "store":
		c.directory = local
	case "firebase":
		d, err := app.Directory(ctx, cfg.Firebase.UsersPath)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.directory = d
	}

	switch cfg.Escalation.Notifier {
	case "log":
		c.notifier = escalation.LogNotifier{Logger: logger.With("component", "notifier")}
	case "firebase":
		n, err := app.Notifier(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.notifier = n
	}

	logger.Info("collaborators ready",
		"store", cfg.Store.Driver,
		"auth", cfg.Auth.Provider,
		"directory", cfg.Escalation.Directory,
		"notifier", cfg.Escalation.Notifier,
	)
	return c, nil
}
