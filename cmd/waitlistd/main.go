package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event_waitlist_bot/internal/app"
	"event_waitlist_bot/internal/domain/waitlist"
	"event_waitlist_bot/internal/infra/config"
	idb "event_waitlist_bot/internal/infra/database"
	"event_waitlist_bot/internal/infra/httpapi"
	"event_waitlist_bot/internal/infra/logger"
	"event_waitlist_bot/internal/infra/scheduler"
	"event_waitlist_bot/internal/infra/telegram"

	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()
	log.WithField("environment", cfg.Environment).Info("Event waitlist service starting...")

	// Store
	var repo waitlist.Repository
	if cfg.StoreDriver == config.StorePostgres {
		db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Could not connect to database: %v", err)
		}
		defer db.Close()
		repo = idb.NewPostgresWaitlistRepository(db)
		log.Info("Postgres waitlist repository initialized.")
	} else {
		repo = idb.NewMemoryWaitlistRepository()
		log.Warn("In-memory waitlist repository initialized; state is lost on restart.")
	}

	// Telegram bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := log.WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		log.Fatalf("Could not create Telegram bot: %v", err)
	}

	// Services
	notifier := telegram.NewNotifier(telegram.NewTelebotAdapter(bot))
	promoService := app.NewPromotionService(repo, notifier, log)
	regService := app.NewRegistrationService(repo, promoService, notifier, log)
	sweeperService := app.NewSweeperService(repo, promoService, notifier, log)
	cycleService := app.NewCycleService(repo, promoService, notifier, log)
	log.Info("Waitlist services initialized.")

	// Scheduler
	waitlistScheduler := scheduler.NewWaitlistScheduler(
		sweeperService,
		cycleService,
		log,
		cfg.CronSpecSweep,
		cfg.CronSpecOpenDue,
	)
	waitlistScheduler.Start()

	// Registrant-facing bot surface
	botCtx, botCancel := context.WithCancel(context.Background())
	defer botCancel()
	telegram.RegisterRegistrantHandlers(botCtx, bot, repo, regService)
	log.Info("Registrant bot handlers registered.")
	go bot.Start()

	// Admin HTTP surface
	apiServer := httpapi.NewServer(cycleService, regService)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Router(),
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("Admin API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Admin API server failed: %v", err)
		}
	}()

	log.Info("Application setup complete.")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down application...")
	waitlistScheduler.Stop()
	bot.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Admin API shutdown failed")
	}
	log.Info("Application shut down gracefully.")
}
