package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jgalvez/chesslink/internal/config"
	"github.com/jgalvez/chesslink/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	var store relay.ListingStore
	if cfg.DatabaseURL != "" {
		store, err = relay.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalw("connect database", "err", err)
		}
		log.Infow("using postgres listings")
	} else {
		store = relay.NewMemory()
		log.Infow("using in-memory listings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(ctx, relay.HubConfig{
		Store:  store,
		TTL:    cfg.ListingTTL,
		Logger: log,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: relay.SetupRoutes(hub, store, log),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalw("server exited", "err", err)
	}
}
