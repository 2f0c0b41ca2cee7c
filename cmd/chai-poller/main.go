// chai-poller periodically samples the household's electricity meter and
// heating devices and stores the readings in SQLite. It also persists the
// rotated Netatmo token pair, so that a restart can resume without
// re-authorization.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chai-project/chai-data-sources/config"
	"github.com/chai-project/chai-data-sources/efergy"
	"github.com/chai-project/chai-data-sources/internal/logging"
	"github.com/chai-project/chai-data-sources/internal/storage"
	"github.com/chai-project/chai-data-sources/internal/storage/sqlite"
	"github.com/chai-project/chai-data-sources/netatmo"
)

const (
	defaultConfigPath = "config.yaml"
	pollTimeout       = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})

	logger.Info("initializing database", "path", cfg.Database.Path)
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	// A previously persisted pair supersedes the configuration seed: the
	// seeded refresh token was spent by the first rotation.
	if pair, err := db.Tokens(ctx); err != nil {
		return fmt.Errorf("failed to load stored tokens: %w", err)
	} else if pair != nil {
		logger.Info("resuming from the stored token pair")
		cfg.Netatmo.RefreshToken = pair.RefreshToken
		cfg.Netatmo.AccessToken = pair.AccessToken
	}

	meter, err := efergy.NewMeter(efergy.Config{
		Token:   cfg.Efergy.Token,
		BaseURL: cfg.Efergy.BaseURL,
		Logger:  logging.Component(logger, "efergy"),
	})
	if err != nil {
		return fmt.Errorf("failed to build the meter client: %w", err)
	}

	thermostat, err := netatmo.NewClient(ctx, netatmo.Config{
		ClientID:     cfg.Netatmo.ClientID,
		ClientSecret: cfg.Netatmo.ClientSecret,
		RefreshToken: cfg.Netatmo.RefreshToken,
		AccessToken:  cfg.Netatmo.AccessToken,
		APIURL:       cfg.Netatmo.APIURL,
		OAuthURL:     cfg.Netatmo.OAuthURL,
		Logger:       logging.Component(logger, "netatmo"),
		OnTokenRotate: func(pair netatmo.TokenPair) {
			if err := db.SaveTokens(context.Background(), pair); err != nil {
				logger.Error("failed to persist the rotated token pair", "error", err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build the thermostat client: %w", err)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Poll.Power, func() {
		pollPower(logger, db, meter)
	}); err != nil {
		return fmt.Errorf("invalid power schedule %q: %w", cfg.Poll.Power, err)
	}
	if _, err := sched.AddFunc(cfg.Poll.Temperature, func() {
		pollTemperatures(logger, db, thermostat)
	}); err != nil {
		return fmt.Errorf("invalid temperature schedule %q: %w", cfg.Poll.Temperature, err)
	}
	if _, err := sched.AddFunc(cfg.Poll.Status, func() {
		pollStatus(logger, thermostat)
	}); err != nil {
		return fmt.Errorf("invalid status schedule %q: %w", cfg.Poll.Status, err)
	}

	logger.Info("starting the polling schedules",
		"power", cfg.Poll.Power, "temperature", cfg.Poll.Temperature, "status", cfg.Poll.Status)
	sched.Start()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutting down", "signal", sig.String())

	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(shutdownTimeout):
		logger.Warn("giving up on running jobs after the shutdown timeout")
	}
	return nil
}

func pollPower(logger *slog.Logger, db storage.ReadingStore, meter *efergy.Meter) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	reading, err := meter.Current(ctx)
	if err != nil {
		logger.Error("power poll failed", "error", err)
		return
	}

	err = db.InsertPowerReading(ctx, storage.PowerReading{
		RecordedAt: time.Now().UTC(),
		Watts:      reading.Value,
	})
	if err != nil {
		logger.Error("failed to store the power reading", "error", err)
		return
	}
	logger.Debug("stored a power reading", "watts", reading.Value)
}

func pollStatus(logger *slog.Logger, client *netatmo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	status, err := client.HomeStatus(ctx)
	if err != nil {
		logger.Error("status poll failed", "error", err)
		return
	}
	logger.Info("heating status",
		"thermostat_on", status.ThermostatOn,
		"boiler_on", status.BoilerOn,
		"valve_on", status.ValveOn,
		"valve_percentage", status.ValvePercentage)
}

func pollTemperatures(logger *slog.Logger, db storage.ReadingStore, client *netatmo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	for _, device := range []netatmo.DeviceType{netatmo.DeviceThermostat, netatmo.DeviceValve} {
		reading, err := client.Temperature(ctx, device)
		if err != nil {
			logger.Error("temperature poll failed", "device", device.String(), "error", err)
			continue
		}

		err = db.InsertTemperature(ctx, storage.TemperatureReading{
			Device:     device.String(),
			MeasuredAt: reading.MeasuredAt,
			Celsius:    reading.Value,
		})
		if err != nil {
			logger.Error("failed to store the temperature reading", "device", device.String(), "error", err)
			continue
		}
		logger.Debug("stored a temperature reading", "device", device.String(), "celsius", reading.Value)
	}
}
