// Package main implements the broker gatekeeper service: the auth webhook
// the MQTT broker calls for every connection and topic request.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/common"
	"github.com/sensorgrid/sensorgrid-go/internal/gatekeeper"
)

func runServer(ctx context.Context, configPath string) error {
	log.Println("Loading Broker Gatekeeper...")

	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
		return err
	}

	logger, err := common.NewLogger(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	r := chi.NewRouter()
	common.AddHealthEndpoint(r, cfg)

	client := gatekeeper.NewHTTPAuthClient(cfg.Auth)
	gk := gatekeeper.New(cfg.Broker, cfg.Auth, client, logger.Named("gatekeeper"))
	gatekeeper.NewWebhook(gk, logger.Named("webhook")).RegisterRoutes(r)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	logger.Info("broker gatekeeper listening",
		zap.String("addr", addr),
		zap.String("authService", cfg.Auth.ServiceURL),
		zap.Int("localUsers", len(cfg.Broker.LocalUsers)))

	go func() {
		if err := http.ListenAndServe(addr, r); err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := ""
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	if err := runServer(ctx, configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
