// Command sortlined runs the sorting line daemon: the conveyor pipeline,
// hardware bindings, recovery engine, and HTTP control API. It expects a
// configuration file and refuses to start without one.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sortline/internal/config"
	"sortline/internal/daemon"
	"sortline/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	path := *configFlag
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			log.Fatalf("determine config path: %v", err)
		}
		path = defaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		OutputPaths: []string{
			"stdout",
			filepath.Join(cfg.Logging.Dir, "sortlined.log"),
		},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	cfgStore, err := config.NewStore(path, logger)
	if err != nil {
		log.Fatalf("open config store: %v", err)
	}

	d, err := daemon.New(cfgStore, daemon.Devices{}, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("sortlined shutting down")
	d.Stop()

	if err := d.RunErr(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline exited with fault", logging.Error(err))
		os.Exit(1)
	}
}
