package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/client/internal/setup"
	"github.com/itchan-dev/pairchat/client/internal/status"
	"github.com/itchan-dev/pairchat/shared/config"
	"github.com/itchan-dev/pairchat/shared/logger"
)

func main() {
	var configFolder string
	flag.StringVar(&configFolder, "config_folder", "client/config", "path to folder with configs")
	flag.Parse()

	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.Log.Level, cfg.Public.Log.JSON)
	log := logger.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setup.SetupDependencies(ctx, cfg)
	if err != nil {
		log.Error("failed to set up adapters", "error", err)
		os.Exit(1)
	}
	defer deps.Cleanup()

	queue := loop.New(256)
	s := session.New(deps.Session, session.Options{
		User:     cfg.Public.Username,
		Timings:  cfg.Public.Timings,
		Location: time.Local,
	}, queue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := queue.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := s.Start(gctx); err != nil {
		log.Error("failed to start session", "error", err)
		stop()
		g.Wait()
		os.Exit(1)
	}
	log.Info("session started", "user", cfg.Public.Username)

	server := status.New(s, status.Options{
		AllowedOrigins: cfg.Public.Status.AllowedOrigins,
		Objects:        deps.Objects,
	})
	g.Go(func() error { return server.Run(gctx, cfg.Public.Status.Addr) })

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("shut down")
}
