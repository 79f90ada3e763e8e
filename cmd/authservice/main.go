// Package main implements the authorization service: the ACL engine behind
// the HTTP API, the token sweeper and the event dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/acl/persistence"
	"github.com/sensorgrid/sensorgrid-go/internal/authapi"
	"github.com/sensorgrid/sensorgrid-go/internal/common"
	"github.com/sensorgrid/sensorgrid-go/internal/dispatcher"
	"github.com/sensorgrid/sensorgrid-go/internal/token"
	"github.com/sensorgrid/sensorgrid-go/internal/users"
)

func runServer(ctx context.Context, configPath, schemaPath string) error {
	log.Println("Loading Authorization Service...")

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

	// === Main Router ===
	r := chi.NewRouter()
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CorsConfig.AllowedOrigins,
		AllowedMethods:   cfg.CorsConfig.AllowedMethods,
		AllowedHeaders:   cfg.CorsConfig.AllowedHeaders,
		AllowCredentials: cfg.CorsConfig.AllowCredentials,
	})
	r.Use(c.Handler)

	common.AddHealthEndpoint(r, cfg)

	// === ACL store (MongoDB) ===
	aclStore, err := persistence.NewMongoStore(ctx, cfg.Mongo)
	if err != nil {
		logger.Error("mongo connect failed", zap.Error(err))
		return err
	}
	logger.Info("connected to mongo", zap.String("database", cfg.Mongo.Database))

	engine := acl.NewEngine(aclStore, acl.NewCache(), logger.Named("acl"))

	// === Token + user store (PostgreSQL) ===
	db, err := common.InitializeDatabase(cfg.Postgres, schemaPath)
	if err != nil {
		logger.Error("postgres connect failed", zap.Error(err))
		return err
	}
	defer db.Close()
	logger.Info("connected to postgres", zap.String("dbname", cfg.Postgres.DBName))

	tokenStore := token.NewStore(db)
	tokenService := &token.Service{
		Secret:     []byte(cfg.Auth.TokenSecret),
		Expiration: time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
	}
	directory := users.NewPostgresDirectory(db)

	// === Event dispatcher (MQTT) ===
	var notifier authapi.Notifier
	if cfg.Broker.URL != "" {
		transport, err := dispatcher.NewMQTTTransport(cfg.Broker)
		if err != nil {
			logger.Error("broker connect failed", zap.Error(err))
			return err
		}
		defer transport.Close()
		notifier = dispatcher.New(transport, logger.Named("dispatcher"))
		logger.Info("connected to broker", zap.String("url", cfg.Broker.URL))
	} else {
		logger.Warn("no broker configured, events will not be dispatched")
	}

	// === Background token sweep ===
	sweeper := token.NewSweeper(tokenStore,
		time.Duration(cfg.Auth.SweepIntervalMinutes)*time.Minute, logger.Named("sweeper"))
	go sweeper.Run(ctx)

	// === API ===
	svc := authapi.NewService(engine, directory, tokenService, tokenStore, notifier, logger.Named("api"))
	apiRouter := chi.NewRouter()
	svc.RegisterRoutes(apiRouter)
	r.Mount(common.NormalizeBasePath(cfg.Server.ContextPath), apiRouter)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	logger.Info("authorization service listening", zap.String("addr", addr))

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
	schemaPath := ""
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&schemaPath, "schema", "", "Path to SQL schema file")
	flag.Parse()

	if err := runServer(ctx, configPath, schemaPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
