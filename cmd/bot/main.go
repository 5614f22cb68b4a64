package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"referral-bot/internal/config"
	"referral-bot/internal/i18n"
	"referral-bot/internal/pending"
	"referral-bot/internal/referral"
	"referral-bot/internal/server"
	"referral-bot/internal/sheets"
	"referral-bot/internal/store/migrations"
	"referral-bot/internal/store/postgres"
	"referral-bot/internal/tgbot"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	configureLogger(log, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DBURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()
	if err := migrations.Up(db); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	var pend pending.Store = pending.NewMemory(cfg.PendingTTL)
	if cfg.RedisURL != "" {
		r, err := pending.NewRedis(ctx, cfg.RedisURL, cfg.PendingTTL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer r.Close()
		pend = r
	}

	svc, err := referral.NewService(postgres.New(db), referral.Options{
		WebsiteURL: cfg.WebsiteLink,
		Operators:  cfg.Operators(),
		Chains:     cfg.ChainIDs(),
	}, log)
	if err != nil {
		log.Fatalf("referral: %v", err)
	}

	var exporter tgbot.Exporter
	if cfg.SheetsEnabled() {
		sh, err := sheets.New(ctx, cfg.GoogleServiceAccountJSON, cfg.SpreadsheetID)
		if err != nil {
			log.Fatalf("sheets: %v", err)
		}
		exporter = sh
	}

	botApp, err := tgbot.New(cfg, svc, pend, i18n.New(cfg.DefaultLanguage), exporter, log.WithField("component", "bot"))
	if err != nil {
		log.Fatalf("telegram: %v", err)
	}

	httpSrv := server.New(cfg, svc, botApp, log.WithField("component", "http"))

	// Start HTTP server
	go func() {
		log.Infof("HTTP listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Start Telegram
	go func() {
		if err := botApp.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("bot stopped: %v", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down...")

	cancel()
	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := httpSrv.Shutdown(ctxTimeout); err != nil {
		log.Warnf("http shutdown: %v", err)
	}

	log.Info("bye")
}

func configureLogger(log *logrus.Logger, cfg config.Config) {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}
