// Command satop is the satellite-operations control platform process: it
// wires the Event Bus, Auth Core, Artifact Store, Plugin Engine, and
// Groundstation Connector behind the HTTP Surface, then serves until a
// termination signal arrives (spec.md §4).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/discosat/satop-platform/internal/artifact"
	"github.com/discosat/satop-platform/internal/auth"
	"github.com/discosat/satop-platform/internal/config"
	"github.com/discosat/satop-platform/internal/eventbus"
	"github.com/discosat/satop-platform/internal/gsconnector"
	"github.com/discosat/satop-platform/internal/httpapi"
	"github.com/discosat/satop-platform/internal/plugin"
)

// exit codes (spec.md §6): 0 success, 1 bootstrap failure.
const exitBootstrapFailure = 1

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log); err != nil {
		log.WithError(err).Error("fatal bootstrap error")
		os.Exit(exitBootstrapFailure)
	}
}

func run(log *logrus.Entry) error {
	dataRoot, err := config.DataRoot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataRoot, 0o700); err != nil {
		return err
	}
	log.WithField("data_root", dataRoot).Info("starting satop")

	secret, err := auth.LoadOrCreateSecret(dataRoot, log)
	if err != nil {
		return err
	}

	dbDir := filepath.Join(dataRoot, "database")
	if err := os.MkdirAll(dbDir, 0o700); err != nil {
		return err
	}
	authStore, err := auth.OpenSQLiteStore(filepath.Join(dbDir, "authorization.db"))
	if err != nil {
		return err
	}

	a, err := auth.New(auth.Config{Secret: secret, Store: authStore, Log: log})
	if err != nil {
		return err
	}

	artifacts, err := artifact.Open(dataRoot, log)
	if err != nil {
		return err
	}
	defer artifacts.Close()

	bus := eventbus.New(log)
	hub := gsconnector.NewHub(a, log)
	mux := http.NewServeMux()
	app := plugin.NewApp(bus, a, dataRoot, mux)

	bundledDir := os.Getenv("SATOP_BUNDLED_PLUGINS_DIR")
	if bundledDir == "" {
		bundledDir = "plugins_bundled"
	}
	engine, err := plugin.Bootstrap(bundledDir, dataRoot, app, log)
	if err != nil {
		return err
	}

	// Plugin-mounted routes (CapHTTPRoutes) take precedence over the core
	// surface by net/http.ServeMux's longest-pattern-match rule; the core
	// surface is registered last, as the catch-all "/".
	mux.Handle("/", httpapi.NewServer(httpapi.Config{Auth: a, Hub: hub, Artifacts: artifacts, Log: log}))

	addr := os.Getenv("SATOP_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{Addr: addr, Handler: mux}

	engine.Startup()

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("serving HTTP surface")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("HTTP server exited unexpectedly")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server did not drain cleanly")
	}

	engine.Shutdown()
	return nil
}
