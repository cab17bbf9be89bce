package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/lowaak/cycle-computer/internal/config"
	"github.com/lowaak/cycle-computer/internal/logging"
	"github.com/lowaak/cycle-computer/internal/session"
	"github.com/lowaak/cycle-computer/internal/storage"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func openStore(fs *pflag.FlagSet, configFile string) (*config.Config, *zap.Logger, *storage.Store, error) {
	cfg, err := config.Load(configFile, fs)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.New(cfg.Log, serviceName)
	store, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, logger, store, nil
}

func runExport(args []string) error {
	fs, configFile := commonFlags("export")
	fs.StringP("output", "o", "", "output file; <session_key>.<ext> when empty")
	fs.StringP("format", "f", "", "fit or parquet")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("export takes at most one session key, got %d arguments", fs.NArg())
	}

	cfg, logger, store, err := openStore(fs, *configFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	exporter := session.NewExporter(store, logger)
	var sessionKey uint64
	if fs.NArg() == 1 {
		sessionKey, err = strconv.ParseUint(fs.Arg(0), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session key %q: %w", fs.Arg(0), err)
		}
	} else {
		sessionKey, err = exporter.LatestSessionKey()
		if err != nil {
			return err
		}
		logger.Info("Exporter: using latest session", zap.Uint64("session_key", sessionKey))
	}

	format, err := session.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}
	path := cfg.Export.Output
	if path == "" {
		path = session.DefaultFileName(sessionKey, format)
	}
	if err := exporter.ExportFile(ctx, sessionKey, format, path); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, path)
	return nil
}

func runSessions(args []string) error {
	fs, configFile := commonFlags("sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, logger, store, err := openStore(fs, *configFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer store.Close()

	keys, err := store.SessionKeys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return storage.ErrNoSessions
	}
	for _, key := range keys {
		fmt.Fprintf(os.Stdout, "%d\t%s\n", key, time.Unix(int64(key), 0).Format(time.RFC3339))
	}
	return nil
}
