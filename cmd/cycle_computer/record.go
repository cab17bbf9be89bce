package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lowaak/cycle-computer/internal/bt"
	"github.com/lowaak/cycle-computer/internal/config"
	"github.com/lowaak/cycle-computer/internal/display"
	"github.com/lowaak/cycle-computer/internal/go_func_utils"
	"github.com/lowaak/cycle-computer/internal/live"
	"github.com/lowaak/cycle-computer/internal/logging"
	"github.com/lowaak/cycle-computer/internal/metrics"
	"github.com/lowaak/cycle-computer/internal/relay"
	"github.com/lowaak/cycle-computer/internal/storage"
	"github.com/lowaak/cycle-computer/internal/trainer"

	"github.com/go-redis/redis/v8"
	"github.com/rivo/tview"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// the dashboard owns the terminal
const defaultRecordLogFile = "cycle-computer.log"

func runRecord(args []string) error {
	fs, configFile := commonFlags("record")
	simulate := fs.Bool("simulate", false, "use simulated sensors instead of the BLE adapter")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("redis-addr", "", "relay live updates to this Redis server")
	fs.Float64("circumference", 0, "wheel circumference in metres")
	fs.String("hr", "", "heart rate monitor address")
	fs.String("power", "", "power meter address")
	fs.String("cadence", "", "speed and cadence sensor address")
	fs.Duration("scan-timeout", 0, "how long to scan for sensors")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile, fs)
	if err != nil {
		return err
	}
	if cfg.Log.File == "" {
		cfg.Log.File = defaultRecordLogFile
	}
	logger := logging.New(cfg.Log, serviceName)
	defer func() { _ = logger.Sync() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	store, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Store: close failed", zap.Error(err))
		}
	}()

	if cfg.Metrics.Address != "" {
		go_func_utils.SafeGo(logger, func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address, logger); err != nil {
				logger.Error("Metrics: server stopped", zap.Error(err))
			}
		})
	}

	recorder := live.NewRecorder(logger, store, cfg.Wheel.CircumferenceM)
	logger.Info("Recorder: session started",
		zap.Uint64("session_key", recorder.SessionKey()),
		zap.Bool("simulate", *simulate))

	if cfg.Relay.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr})
		defer client.Close()
		relayUpdates := make(chan live.Update, 64)
		defer recorder.ListenToUpdates(relayUpdates)()
		r := relay.New(client, logger, cfg.Relay.Stream, cfg.Relay.MaxLen, recorder.SessionKey())
		go_func_utils.SafeGo(logger, func() {
			r.Run(ctx, relayUpdates)
		})
	}

	var btManager bt.BTManagerInterface
	if *simulate {
		btManager = trainer.NewMockBTManager(logger, time.Second, cfg.Wheel.CircumferenceM)
	} else {
		btManager = bt.NewBTManager(bluetooth.DefaultAdapter, logger, cfg.Scan.Timeout)
	}
	if err := btManager.Enable(); err != nil {
		return fmt.Errorf("enable BLE stack: %w", err)
	}
	defer btManager.Shutdown()

	handler := trainer.NewDeviceHandler(btManager, recorder, logger)
	addresses := make(map[trainer.DeviceTypeID]string, len(live.AllSensorClasses))
	for _, class := range live.AllSensorClasses {
		addresses[class] = cfg.DeviceAddress(string(class))
	}
	connectErr := make(chan error, 1)
	go_func_utils.SafeGo(logger, func() {
		types, err := handler.ConnectAll(ctx, addresses, cfg.Scan.Timeout)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("DeviceHandler: no sensors connected", zap.Error(err))
				connectErr <- err
			}
			cancel()
			return
		}
		logger.Info("DeviceHandler: recording", zap.Int("sensors", len(types)))
	})

	go_func_utils.SafeGo(logger, func() {
		select {
		case <-recorder.Done():
			logger.Error("Recorder: stopped", zap.Error(recorder.Err()))
			cancel()
		case <-ctx.Done():
		}
	})

	updates := make(chan live.Update, 64)
	defer recorder.ListenToUpdates(updates)()
	state := display.NewState(recorder.StartTime(), cfg.Display.StaleAfter, cfg.Display.AssumedCadenceRPM)
	dashboard := display.NewDashboard(logger, tview.NewApplication(), state, recorder.SessionKey())
	if err := dashboard.Run(ctx, updates); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}

	select {
	case err := <-connectErr:
		return err
	default:
	}
	if err := recorder.Err(); err != nil {
		return fmt.Errorf("session %d: %w", recorder.SessionKey(), err)
	}
	fmt.Fprintf(os.Stdout, "recorded session %d\n", recorder.SessionKey())
	return nil
}
