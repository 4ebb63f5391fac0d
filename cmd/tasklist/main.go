package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tasklist/internal/auth"
	"tasklist/internal/bot"
	"tasklist/internal/config"
	"tasklist/internal/httpapi"
	"tasklist/internal/logging"
	"tasklist/internal/repository"
	"tasklist/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Logger.Fatalf("config: %v", err)
	}
	logging.Init(cfg.LogFile, cfg.LogLevel)

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		logging.Logger.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	tokens := auth.NewTokens(cfg.SecretKey, cfg.SessionTTL)
	taskSvc := service.NewTaskService(taskRepo)
	userSvc := service.NewUserService(userRepo, tokens)
	digestSvc := service.NewDigestService(taskSvc)

	srv, err := httpapi.NewServer(taskSvc, userSvc, httpapi.Options{
		APIScope:   cfg.APIScope,
		SessionTTL: cfg.SessionTTL,
	})
	if err != nil {
		logging.Logger.Fatalf("http: %v", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	if cfg.TelegramToken != "" {
		telegramBot, err := bot.New(cfg.TelegramToken, userSvc, taskSvc, digestSvc, bot.NewBreaker("telegram"))
		if err != nil {
			logging.Logger.Fatalf("bot: %v", err)
		}

		scheduler := service.NewSchedulerService(time.Local)
		if cfg.DigestInterval > 0 {
			if _, err := scheduler.ScheduleInterval("telegram-digest", cfg.DigestInterval, func() {
				jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				if err := telegramBot.SendDailyDigests(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
					logging.Logger.Errorf("digest: %v", err)
				}
			}); err != nil {
				logging.Logger.Fatalf("schedule digests: %v", err)
			}
			scheduler.Start()
			defer scheduler.Stop()
			logging.Logger.Infof("digest scheduled every %s", cfg.DigestInterval)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Logger.Errorf("bot stopped with error: %v", err)
			}
		}()
	} else {
		logging.Logger.Info("TELEGRAM_TOKEN not set, bot disabled")
	}

	go func() {
		logging.Logger.Infof("http server listening on %s (api scope %s)", cfg.HTTPAddr, cfg.APIScope)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Errorf("http shutdown: %v", err)
	}
	wg.Wait()
	logging.Logger.Info("shutdown complete")
}
