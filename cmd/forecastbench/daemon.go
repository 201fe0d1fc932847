package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CryptoBeacon/internal/notifier"
	"CryptoBeacon/internal/scheduler"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Re-evaluate on a schedule and answer Telegram commands",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// Context for graceful shutdown
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx, cfg, "")
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.log

		var sender scheduler.Sender
		var tn *notifier.TelegramNotifier
		if cfg.RequiresTelegram() {
			tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
			sender = tn
		} else {
			log.Warn("telegram not configured, summaries go to the log only")
		}

		sched := scheduler.NewScheduler(ctx, a.service, sender, cfg.DataSource.Symbols)
		if err := sched.RegisterAll(cfg.Schedule.EvaluateCron); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		if tn != nil {
			go tn.StartPolling(ctx, sched.HandleCommand)
			log.Info("Telegram polling started")
		}

		var srv *http.Server
		if cfg.Metrics.ListenAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", a.metrics.Handler())
			srv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("metrics server: %v", err)
				}
			}()
			log.Infof("metrics listening on %s", cfg.Metrics.ListenAddr)
		}

		// Optional: run immediately on start
		if os.Getenv("RUN_ON_START") == "true" {
			log.Info("RUN_ON_START enabled, evaluating now")
			go sched.RunNow()
		}

		log.Info("forecastbench daemon is running. Press Ctrl+C to stop.")

		// Wait for shutdown signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("shutdown signal received, stopping...")
		cancel()
		if err := shutdownServer(srv, 5*time.Second); err != nil {
			log.Warnf("metrics server shutdown: %v", err)
		}
		return nil
	},
}

// shutdownServer stops srv, waiting at most timeout for open requests.
func shutdownServer(srv *http.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
