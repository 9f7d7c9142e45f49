package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"annobot/internal/announce"
	"annobot/internal/bot"
	"annobot/internal/config"
	"annobot/internal/services/delivery"
	"annobot/internal/services/schedule"
	"annobot/internal/storage"
	"annobot/internal/transport"
	"annobot/internal/transport/telegram"
	"annobot/pkg/logx"
)

const updateBuffer = 256

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout, 0),
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		return err
	}
	defer store.Close()

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 0),
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		return err
	}

	sched := schedule.New(log.With(logx.String("component", "schedule")))
	sched.Start(ctx)

	deliver := delivery.New(delivery.Config{RatePerSec: cfg.Delivery.RatePerSec},
		adapter, log.With(logx.String("component", "delivery")))

	ann := announce.New(announce.Config{
		SweepEvery: config.Duration(cfg.Announce.SweepEvery, time.Minute),
	}, store, sched, deliver, adapter, log.With(logx.String("component", "announce")))

	front := bot.New(bot.Config{AdminUserIDs: cfg.Telegram.AdminUserIDs},
		adapter, store, ann, log.With(logx.String("component", "bot")))

	updates := make(chan transport.Update, updateBuffer)
	if err := adapter.Start(ctx, updates); err != nil {
		return err
	}

	// Rehydrate timers for tasks persisted before the last shutdown.
	if err := ann.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adapter.Stop(stopCtx)
		stopCancel()
		return err
	}

	go front.Run(ctx, updates)

	go func() {
		err := config.Watch(ctx, cfgPath, log.With(logx.String("component", "config")), func(next config.Config) {
			logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File: logx.FileConfig{
					Enabled: next.Logging.File.Enabled,
					Path:    next.Logging.File.Path,
				},
			})
			deliver.Apply(delivery.Config{RatePerSec: next.Delivery.RatePerSec})
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	// Under systemd Type=notify this flips the unit to active; elsewhere
	// it is a silent no-op.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("bot started")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	_ = adapter.Stop(stopCtx)
	ann.Stop(stopCtx)
	sched.Stop(stopCtx)
	return nil
}
