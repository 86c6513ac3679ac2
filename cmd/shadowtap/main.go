// CLAUDE:SUMMARY CLI entry point for shadowtap: config or single-URL mode, sinks, daemon and the recording control API.
// Command shadowtap records user interactions, shadow DOM included, on
// pages opened in a managed Chrome.
//
// Usage:
//
//	shadowtap -config shadowtap.yaml          # tap the pages of a YAML config
//	shadowtap -url https://example.com -record  # tap one page, recording at once
//	shadowtap -help-env                       # list SHADOWTAP_* variables
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/shadowtap"
	"github.com/hazyhaar/shadowtap/idgen"
	"github.com/hazyhaar/shadowtap/internal/control"
)

func main() {
	configPath := flag.String("config", "", "path to shadowtap.yaml config file")
	singleURL := flag.String("url", "", "tap a single URL in addition to the configured pages")
	record := flag.Bool("record", false, "start recording without asking the status source")
	listen := flag.String("listen", "", "control API address (overrides control.listen, e.g. :8090)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	helpEnv := flag.Bool("help-env", false, "print the supported environment variables and exit")
	flag.Parse()

	if *helpEnv {
		fmt.Println(shadowtap.EnvUsage())
		return
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{configPath: *configPath, url: *singleURL, record: *record, listen: *listen}
	if err := run(ctx, logger, opts); err != nil {
		logger.Error("shadowtap: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	url        string
	record     bool
	listen     string
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := shadowtap.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.url != "" {
		cfg.Pages = append(cfg.Pages, shadowtap.PageConfig{ID: idgen.New(), URL: opts.url})
	}
	if opts.record {
		cfg.Control.Record, cfg.Control.StatusURL = true, ""
	}
	if opts.listen != "" {
		cfg.Control.Listen = opts.listen
	}
	if len(cfg.Pages) == 0 {
		fmt.Fprintln(os.Stderr, "usage: shadowtap -config <file> | -url <url> [-record] [-listen addr]")
		os.Exit(2)
	}

	sinks, err := shadowtap.BuildSinks(cfg.Sinks, logger)
	if err != nil {
		return fmt.Errorf("sinks: %w", err)
	}
	d, err := shadowtap.NewDaemon(cfg, logger, sinks...)
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return err
	}
	if err := d.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("start: %w", err)
	}
	defer d.Stop()

	if cfg.Control.Listen == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.Control.Listen,
		Handler:           control.NewServer(d.Controllers(), logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("shadowtap: control API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shadowtap: control API shutdown", "error", err)
	}
	return nil
}
