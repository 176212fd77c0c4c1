// Package firebase adapts Firebase Realtime Database, Authentication and
// Cloud Messaging to the collaborator interfaces used by ingest, admission
// and escalation.
package firebase

import (
	"context"
	"errors"
	"fmt"

	fb "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

type Config struct {
	CredentialsFile string
	DatabaseURL     string
	ProjectID       string
}

// App is a lazily shared Firebase app. Each accessor creates the client it
// needs; clients are safe for concurrent use.
type App struct {
	app *fb.App
}

func NewApp(ctx context.Context, cfg Config) (*App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := fb.NewApp(ctx, &fb.Config{
		DatabaseURL: cfg.DatabaseURL,
		ProjectID:   cfg.ProjectID,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: init app: %w", err)
	}
	return &App{app: app}, nil
}

func (a *App) Authenticator(ctx context.Context) (*Authenticator, error) {
	client, err := a.app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: auth client: %w", err)
	}
	return NewAuthenticator(client), nil
}

func (a *App) Notifier(ctx context.Context) (*Notifier, error) {
	client, err := a.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: messaging client: %w", err)
	}
	return NewNotifier(client), nil
}

func (a *App) Store(ctx context.Context, path string) (*Store, error) {
	client, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(dbRef{client.NewRef(path)}), nil
}

func (a *App) Directory(ctx context.Context, usersPath string) (*Directory, error) {
	client, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	return NewDirectory(dbRef{client.NewRef(usersPath)}), nil
}

func (a *App) database(ctx context.Context) (*db.Client, error) {
	client, err := a.app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: database client: %w", err)
	}
	return client, nil
}

// Node is the slice of the Realtime Database reference API the adapters use.
type Node interface {
	Push(ctx context.Context, v any) (key string, err error)
	Get(ctx context.Context, v any) error
	Child(path string) Node
}

type dbRef struct {
	ref *db.Ref
}

func (r dbRef) Push(ctx context.Context, v any) (string, error) {
	child, err := r.ref.Push(ctx, v)
	if err != nil {
		return "", err
	}
	if child == nil {
		return "", errors.New("firebase: push returned no reference")
	}
	return child.Key, nil
}

func (r dbRef) Get(ctx context.Context, v any) error { return r.ref.Get(ctx, v) }

func (r dbRef) Child(path string) Node { return dbRef{r.ref.Child(path)} }
