package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/computersciencehouse/quickpoll/auth"
	"github.com/computersciencehouse/quickpoll/config"
	"github.com/computersciencehouse/quickpoll/database"
	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/computersciencehouse/quickpoll/polls"
	"github.com/computersciencehouse/quickpoll/server"
	"github.com/computersciencehouse/quickpoll/sse"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logging.For("main")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).WithField("database", cfg.Database).Fatal("failed to open database")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.WithError(err).Error("failed to close database")
		}
	}()

	broker := sse.NewBroker()
	go broker.Listen(ctx)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := polls.NewEngine(store, server.NewPublisher(store, broker))
	srv, err := server.New(engine, store, auth.NewCSH(cfg.OIDC), broker)
	if err != nil {
		log.WithError(err).Fatal("failed to build server")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
