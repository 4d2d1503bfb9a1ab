package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/db"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/api"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/datadog"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/engine"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/history"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/logging"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/notifications"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/sensor"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/setpoint"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/telemetry"
	"github.com/thatsimonsguy/heatpump-thermostat/system/shutdown"
	"github.com/thatsimonsguy/heatpump-thermostat/system/startup"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("deployment_type", string(cfg.DeploymentType)).
		Str("device_id", cfg.DeviceID).
		Msg("Starting heat pump thermostat")

	if cfg.InstallService {
		if err := startup.InstallService(cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to install service unit")
		}
		log.Info().Msg("Service unit installed")
		return
	}

	if cfg.DeploymentType == model.DeployServer {
		log.Fatal().Msg("Server deployments run the coordinator, not this binary")
	}

	datadog.InitMetrics(cfg)
	notifications.Init(cfg.NtfyTopic)

	hw, err := hardware.Probe(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Hardware probe failed")
	}

	var events *sql.DB
	if cfg.EventDBPath != "" {
		events, err = db.Open(cfg.EventDBPath)
		if err != nil {
			log.Warn().Err(err).Msg("Event log unavailable; continuing without it")
		} else if err := db.InsertBootEvent(events, time.Now(), hw.Name()); err != nil {
			log.Debug().Err(err).Msg("Boot event not recorded")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	poller := sensor.New(hw, cfg.SensorPollIntervalSeconds, cfg.SensorFailureThreshold)
	go poller.Run(ctx)

	sp := setpoint.New(cfg.DefaultUserSetTemperature)
	if cfg.VMServer != "" {
		go sp.SeedFromServer(ctx, &http.Client{Timeout: 10 * time.Second}, cfg.VMServer, cfg.DeviceID)
	}

	tele := telemetry.New(cfg.VMServer, cfg.DeviceID, cfg.HTTPRetryCount, cfg.DataSendIntervalSeconds, poller)
	tele.Register(ctx)
	go tele.RunDataPublisher(ctx)
	go tele.RunHeartbeat(ctx)

	eng := engine.New(hw, cfg.Parsed, poller, sp, history.New(), engine.Settings{
		CoolingOffset:    cfg.CoolingOffset,
		HeatingOffset:    cfg.HeatingOffset,
		Threshold:        cfg.TemperatureDifferenceThreshold,
		CompressorMinOff: time.Duration(cfg.CompressorMinOffMinutes * float64(time.Minute)),
	})
	eng.OnModeChange(tele.PublishMode)
	if events != nil {
		eng.OnModeChange(func(mode model.Mode) {
			reading, _ := poller.CurrentReadings()
			if err := db.InsertModeChange(events, time.Now(), mode, reading.Temperature, sp.Get()); err != nil {
				log.Debug().Err(err).Msg("Mode change not recorded")
			}
		})
	}

	if cfg.DeploymentType.RunsControlLoop() {
		go eng.Run(ctx, time.Duration(cfg.ControlLoopIntervalMs)*time.Millisecond)
	} else {
		log.Info().Msg("Probe deployment; control loop disabled")
	}

	apiServer := api.NewServer(eng, poller, sp, cfg, events)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("API server exited")
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Debug().Err(err).Msg("API server stop reported error")
	}

	shutdown.Cascade{
		Cancel:   cancel,
		Engine:   eng,
		Hardware: hw,
		Events:   events,
	}.Run()

	os.Exit(0)
}
