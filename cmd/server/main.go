// Command server is the process entrypoint: it loads configuration,
// connects the relational store, boots the Application (manifest scan,
// dependency-ordered instance spawn), and serves the HTTP/WS surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statehub-server/core/internal/app"
	"github.com/statehub-server/core/internal/config"
	"github.com/statehub-server/core/internal/logging"
	"github.com/statehub-server/core/internal/store"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the boot-time TOML config file")
	flag.Parse()

	log := logging.NewSlog()

	if err := run(*configPath, log); err != nil {
		crashBanner(log, err)
		os.Exit(1)
	}
}

func run(configPath string, log logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	pool, err := store.NewPool(ctx, cfg.PGURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	st := store.NewPGStore(pool, log)
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	application := app.New(log, cfg, st)
	if err := application.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	for _, name := range application.SkippedModules() {
		log.Warn("server: module not loaded, unresolved dependency", "module", name)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: application.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server: listening", "addr", httpServer.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-stop:
		log.Info("server: shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// crashBanner logs a boot-fatal error in a way that's unmistakable in a
// scrolling log stream (§7: "a crash banner is logged on non-zero exit").
func crashBanner(log logging.Logger, err error) {
	log.Error("==================== FATAL BOOT ERROR ====================")
	log.Error("server failed to start", "error", err)
	log.Error("============================================================")
}
