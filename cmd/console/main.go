// Package main is the annotation console: a local web console and a set of
// commands that act on the caller's default project through the REST API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/config"
	"github.com/kmrasmussen/intersebd-sub000/internal/localstore"
	"github.com/kmrasmussen/intersebd-sub000/internal/logger"
	"github.com/kmrasmussen/intersebd-sub000/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	Version = "0.1.0"
	appName = "annotation-console"

	// sessionTokenKey holds the session cookie between invocations
	sessionTokenKey = "sessionToken"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is everything a command needs, built once per invocation
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	api    *apiclient.Client
	store  localstore.Store
	sess   *session.Context
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Mode, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	api, err := apiclient.NewClient(cfg.API.BaseURL, apiclient.Options{
		Timeout:       cfg.API.Timeout,
		SessionCookie: cfg.API.SessionCookie,
	}, log)
	if err != nil {
		return nil, err
	}

	store, err := localstore.Open(ctx, localstore.Config{
		Driver:    cfg.Storage.Driver,
		Path:      cfg.Storage.Path,
		RedisAddr: cfg.Storage.RedisAddr,
		Prefix:    appName + ":",
	}, log)
	if err != nil {
		return nil, err
	}

	if token, err := store.Get(ctx, sessionTokenKey); err == nil {
		api.RestoreSession(token)
	}

	resolver := session.NewResolver(api, store, cfg.Storage.GuestIDKey, log)
	return &app{
		cfg:    cfg,
		logger: log,
		api:    api,
		store:  store,
		sess:   session.NewContext(resolver, log),
	}, nil
}

// project resolves the identity and returns the working project id
func (a *app) project(ctx context.Context) (string, error) {
	st, err := a.sess.Init(ctx)
	if err != nil {
		return "", err
	}
	if st.Phase != session.PhaseReady {
		return "", fmt.Errorf("identity not resolved: %v", st.Err)
	}
	a.saveSession(ctx)
	return st.ProjectID, nil
}

// saveSession keeps whatever cookie the server handed out for next time
func (a *app) saveSession(ctx context.Context) {
	token := a.api.SessionToken()
	var err error
	if token == "" {
		err = a.store.Delete(ctx, sessionTokenKey)
	} else {
		err = a.store.Set(ctx, sessionTokenKey, token)
	}
	if err != nil {
		a.logger.Warn("Failed to persist session", zap.Error(err))
	}
}

func (a *app) close() {
	a.sess.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close local store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		a          *app
	)

	cmd := &cobra.Command{
		Use:           "console",
		Short:         "Completion annotation console",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `The annotation console resolves who you are, opens your default
completion project and lets you review, annotate and export the
completions recorded for it.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			var err error
			a, err = newApp(cmd.Context(), configPath)
			return err
		},
	}
	// runs after failed commands too
	cobra.OnFinalize(func() {
		if a != nil {
			a.close()
		}
	})

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yml", "Config file path (YAML)")

	get := func() *app { return a }
	cmd.AddCommand(
		serveCmd(get),
		whoamiCmd(get),
		loginCmd(get),
		logoutCmd(get),
		requestsCmd(get),
		annotateCmd(get),
		alternativeCmd(get),
		schemaCmd(get),
		datasetCmd(get),
		watchCmd(get),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}
