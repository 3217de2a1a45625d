package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"gundeshapur/internal/app"
	"gundeshapur/internal/config"
	"gundeshapur/internal/ratelimit"
	"gundeshapur/internal/server"
	"gundeshapur/internal/usertoken"
	"gundeshapur/internal/util"
	"gundeshapur/pkg/audit"
	"gundeshapur/pkg/backup"
	"gundeshapur/pkg/sheetdb"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	backend, err := sheetdb.NewSheetsBackend(sheetdb.StaticToken(cfg.SheetsAccessToken), cfg.SheetsBaseURL)
	if err != nil {
		log.Fatalf("failed to init sheets backend: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.AssistantRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "", cfg.AssistantRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	var objects backup.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = backup.NewMinioStore(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
	}

	var recorder audit.Recorder
	if cfg.AMQPURL != "" {
		amqpRecorder, err := audit.NewAMQPRecorder(cfg.AMQPURL, cfg.AuditQueue)
		if err != nil {
			log.Fatalf("failed to init audit recorder: %v", err)
		}
		defer amqpRecorder.Close()
		recorder = amqpRecorder
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:      cfg.DatabaseURL,
		Backend:          backend,
		AIProvider:       cfg.AIProvider,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GenerationModel:  cfg.GenerationModel,
		OllamaBaseURL:    cfg.OllamaBaseURL,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		Objects:          objects,
		Audit:            recorder,
		AssistantLimiter: limiter,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:               appCore,
		TokenVerifier:     verifier,
		TrustedProxyCIDRs: cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
