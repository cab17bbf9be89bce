// Package session folds the stored raw samples of one recording into
// per-second records and exports them.
package session

import (
	"math"
	"time"

	"github.com/lowaak/cycle-computer/internal/fit"
	"github.com/lowaak/cycle-computer/internal/metrics"
	"github.com/lowaak/cycle-computer/internal/sensor"

	"go.uber.org/zap"
)

// Aggregator turns a time ordered stream of RawSamples into one fit.Record
// per second. Samples must be added in storage order. Not safe for
// concurrent use.
type Aggregator struct {
	logger     *zap.Logger
	sessionKey uint64

	current    fit.Record
	hasCurrent bool
	records    []fit.Record

	lastPower *uint16
	// previousCrank is the last CSC crank reading; wheel-only samples leave
	// it in place.
	previousCrank *sensor.RevolutionData
}

// NewAggregator starts an aggregation for the session recorded at
// sessionKey (Unix seconds).
func NewAggregator(logger *zap.Logger, sessionKey uint64) *Aggregator {
	if logger == nil {
		panic("Aggregator: logger cannot be nil")
	}
	return &Aggregator{
		logger:     logger,
		sessionKey: sessionKey,
	}
}

// Add folds one sample into the in-progress record, finalizing the previous
// record when the second changes.
func (a *Aggregator) Add(sample sensor.RawSample) {
	second := a.sessionKey + uint64(sample.Elapsed/time.Second)
	if !a.hasCurrent {
		a.current = fit.Record{SecondsSinceUnixEpoch: second}
		a.hasCurrent = true
	} else if second != a.current.SecondsSinceUnixEpoch {
		a.finalize()
		a.current = fit.Record{SecondsSinceUnixEpoch: second}
		a.hasCurrent = true
	}

	switch sample.Characteristic {
	case sensor.HeartRateMeasurementID:
		m := sensor.DecodeHeartRate(sample.Payload)
		hr := uint8(m.BPM)
		a.current.HeartRate = &hr

	case sensor.CyclingPowerMeasurementID:
		m := sensor.DecodeCyclingPower(sample.Payload)
		power := uint16(m.InstantaneousPower)
		a.current.Power = &power
		a.lastPower = &power

	case sensor.CSCMeasurementID:
		m := sensor.DecodeCSC(sample.Payload)
		if m.Crank == nil {
			break
		}
		if a.previousCrank != nil {
			if rate, ok := sensor.Rate(*a.previousCrank, *m.Crank); ok {
				cadence := uint8(int64(math.Round(rate.RPM)))
				a.current.Cadence = &cadence
			}
		}
		a.previousCrank = m.Crank

	default:
		metrics.UnknownCharacteristicsTotal.Inc()
		a.logger.Warn("Aggregator: skipping sample for unknown characteristic",
			zap.Stringer("characteristic", sample.Characteristic),
			zap.Duration("elapsed", sample.Elapsed))
	}
}

// Finish flushes the in-progress record and returns every record in
// chronological order. The Aggregator must not be used afterwards.
func (a *Aggregator) Finish() []fit.Record {
	if a.hasCurrent {
		a.finalize()
		a.hasCurrent = false
	}
	return a.records
}

func (a *Aggregator) finalize() {
	if a.current.Power == nil && a.lastPower != nil {
		power := *a.lastPower
		a.current.Power = &power
	}
	a.records = append(a.records, a.current)
}

// Aggregate runs a full aggregation over samples.
func Aggregate(logger *zap.Logger, sessionKey uint64, samples []sensor.RawSample) []fit.Record {
	a := NewAggregator(logger, sessionKey)
	for _, s := range samples {
		a.Add(s)
	}
	return a.Finish()
}
