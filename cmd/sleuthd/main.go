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

	"github.com/kmattila9/sleuthsync/internal/access"
	"github.com/kmattila9/sleuthsync/internal/config"
	"github.com/kmattila9/sleuthsync/internal/content"
	"github.com/kmattila9/sleuthsync/internal/httpapi"
	"github.com/kmattila9/sleuthsync/internal/hub"
	"github.com/kmattila9/sleuthsync/internal/recovery"
	"github.com/kmattila9/sleuthsync/internal/transport"
)

func main() {
	cfg := config.Load()

	var log *zap.Logger
	var err error
	if cfg.Dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("sleuthd exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tr transport.Transport
	nc, err := transport.DialNATS(cfg.NATSURL, log)
	if err != nil {
		// Single-process sessions still work without a relay.
		log.Warn("nats unavailable, using in-process bus", zap.Error(err))
		tr = transport.NewMemoryBus()
	} else {
		defer nc.Close()
		tr = nc
	}

	store, err := recovery.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	var db *access.Store
	if cfg.DatabaseURL != "" {
		db, err = access.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		log.Info("access store connected")
	} else {
		log.Warn("no database configured, access checks disabled")
	}

	h := hub.NewHub(ctx, hub.Deps{
		Content:   content.NewLoader(cfg.ContentDir),
		Transport: tr,
		Recovery:  store,
		Log:       log,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, db, log),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Inbox() <- hub.ShutdownHub{}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
