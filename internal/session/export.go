package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lowaak/cycle-computer/internal/fit"
	"github.com/lowaak/cycle-computer/internal/metrics"
	"github.com/lowaak/cycle-computer/internal/sensor"

	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when no samples are stored under a session
// key.
var ErrSessionNotFound = errors.New("no samples recorded for session")

// Format selects the export file format.
type Format string

const (
	FormatFIT     Format = "fit"
	FormatParquet Format = "parquet"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatFIT, FormatParquet:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Extension is the file extension for the format, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// SampleSource is the read side of the sample store.
type SampleSource interface {
	Iterate(sessionKey uint64, fn func(sensor.RawSample) error) error
	LatestSessionKey() (uint64, error)
}

// Exporter reads a finished session from storage and encodes it. Exporting a
// session that is still being recorded is not supported.
type Exporter struct {
	source SampleSource
	logger *zap.Logger
}

func NewExporter(source SampleSource, logger *zap.Logger) *Exporter {
	if source == nil {
		panic("Exporter: source cannot be nil")
	}
	if logger == nil {
		panic("Exporter: logger cannot be nil")
	}
	return &Exporter{source: source, logger: logger}
}

// LatestSessionKey returns the most recently recorded session.
func (e *Exporter) LatestSessionKey() (uint64, error) {
	return e.source.LatestSessionKey()
}

// Records aggregates the stored samples of sessionKey. A key with no stored
// samples is ErrSessionNotFound.
func (e *Exporter) Records(ctx context.Context, sessionKey uint64) ([]fit.Record, error) {
	agg := NewAggregator(e.logger, sessionKey)
	samples := 0
	err := e.source.Iterate(sessionKey, func(s sensor.RawSample) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		agg.Add(s)
		samples++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate session %d: %w", sessionKey, err)
	}
	if samples == 0 {
		return nil, fmt.Errorf("session %d: %w", sessionKey, ErrSessionNotFound)
	}
	records := agg.Finish()
	e.logger.Info("Exporter: aggregated session",
		zap.Uint64("session_key", sessionKey),
		zap.Int("samples", samples),
		zap.Int("records", len(records)))
	return records, nil
}

// Encode aggregates the session and returns the encoded file.
func (e *Exporter) Encode(ctx context.Context, sessionKey uint64, format Format) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.ExportDuration.Observe(time.Since(start).Seconds()) }()

	records, err := e.Records(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch format {
	case FormatFIT:
		out = fit.Encode(records)
	case FormatParquet:
		out, err = EncodeParquet(records)
		if err != nil {
			return nil, fmt.Errorf("encode parquet: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	metrics.ExportedRecordsTotal.Add(float64(len(records)))
	return out, nil
}

// Export writes the encoded session to w.
func (e *Exporter) Export(ctx context.Context, sessionKey uint64, format Format, w io.Writer) error {
	out, err := e.Encode(ctx, sessionKey, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// ExportFile writes the encoded session to path. Nothing is written unless
// the whole session was read and encoded; the file appears atomically.
func (e *Exporter) ExportFile(ctx context.Context, sessionKey uint64, format Format, path string) error {
	out, err := e.Encode(ctx, sessionKey, format)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}

	e.logger.Info("Exporter: wrote file",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("bytes", len(out)))
	return nil
}

// DefaultFileName is <session_key><ext>.
func DefaultFileName(sessionKey uint64, format Format) string {
	return fmt.Sprintf("%d%s", sessionKey, format.Extension())
}
