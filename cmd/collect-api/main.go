package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yashp387/DigitalDump-sub001/internal/bootstrap"
	"github.com/yashp387/DigitalDump-sub001/internal/config"
	"github.com/yashp387/DigitalDump-sub001/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "collect-api ", log.LstdFlags|log.LUTC)
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	shutdownTracing, err := observability.InitTracing("collect-api", cfg.Tracing)
	if err != nil {
		logger.Fatalf("init tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("bootstrap service: %v", err)
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Printf("listening on :%s (store=%s evidence=%s)", cfg.Port, cfg.Store.Kind, cfg.Evidence.Backend)
	if err := bootstrap.Run(ctx, srv, 10*time.Second); err != nil {
		logger.Printf("server shutdown: %v", err)
	}
}
