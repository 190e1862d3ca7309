package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/seantiz/taskloop/internal/api"
	"github.com/seantiz/taskloop/internal/config"
	"github.com/seantiz/taskloop/internal/driver"
	"github.com/seantiz/taskloop/internal/engine"
	"github.com/seantiz/taskloop/internal/snapshot"
	"github.com/seantiz/taskloop/internal/store"
	"github.com/seantiz/taskloop/internal/work"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Drive the task manager and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("taskloop: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"frame_interval", cfg.FrameInterval,
	)

	memory := snapshot.NewTable()
	var (
		sink  snapshot.Sink    = memory
		table api.TableSource = api.MemoryTable(memory)
	)
	if cfg.DBPath != "" {
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		sink = snapshot.Multi(memory, db)
		table = db
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := engine.NewManager(cfg.Engine(), sink, logger, engine.WithRegisterer(reg))
	defer manager.Close()

	drv, err := driver.New(manager, cfg.FrameInterval, cfg.ClearSchedule, logger)
	if err != nil {
		return err
	}

	if len(cfg.FetchAllowHosts) > 0 {
		logger.Info("http work kinds enabled", "allowed_hosts", cfg.FetchAllowHosts)
	}
	kinds := work.DefaultRegistry(nil, cfg.FetchAllowHosts)

	srv := api.NewServer(cfg.ListenAddr, manager, kinds, table, reg, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	driverDone := make(chan error, 1)
	go func() {
		driverDone <- drv.Run(ctx)
	}()

	serveErr := srv.Run(ctx)
	cancel()
	if err := <-driverDone; err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
