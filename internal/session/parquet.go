package session

import (
	"math"
	"time"

	"github.com/lowaak/cycle-computer/internal/fit"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetRow flattens a fit.Record. Absent values are NaN with the matching
// valid flag false.
type parquetRow struct {
	TimestampUTC string  `parquet:"name=ts_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	UnixSeconds  int64   `parquet:"name=unix_s, type=INT64"`
	PowerW       float64 `parquet:"name=power_w, type=DOUBLE"`
	HRBPM        float64 `parquet:"name=hr_bpm, type=DOUBLE"`
	CadenceRPM   float64 `parquet:"name=cadence_rpm, type=DOUBLE"`
	SpeedMPS     float64 `parquet:"name=speed_mps, type=DOUBLE"`
	DistanceM    float64 `parquet:"name=distance_m, type=DOUBLE"`
	AltitudeM    float64 `parquet:"name=altitude_m, type=DOUBLE"`
	LatitudeDeg  float64 `parquet:"name=latitude_deg, type=DOUBLE"`
	LongitudeDeg float64 `parquet:"name=longitude_deg, type=DOUBLE"`
	ValidPower   bool    `parquet:"name=valid_power, type=BOOLEAN"`
	ValidHR      bool    `parquet:"name=valid_hr, type=BOOLEAN"`
	ValidCadence bool    `parquet:"name=valid_cadence, type=BOOLEAN"`
}

func rowFromRecord(r fit.Record) parquetRow {
	row := parquetRow{
		TimestampUTC: time.Unix(int64(r.SecondsSinceUnixEpoch), 0).UTC().Format(time.RFC3339),
		UnixSeconds:  int64(r.SecondsSinceUnixEpoch),
		PowerW:       math.NaN(),
		HRBPM:        math.NaN(),
		CadenceRPM:   math.NaN(),
		SpeedMPS:     floatOrNaN(r.Speed),
		DistanceM:    floatOrNaN(r.Distance),
		AltitudeM:    floatOrNaN(r.Altitude),
		LatitudeDeg:  floatOrNaN(r.Latitude),
		LongitudeDeg: floatOrNaN(r.Longitude),
	}
	if r.Power != nil {
		row.PowerW = float64(*r.Power)
		row.ValidPower = true
	}
	if r.HeartRate != nil {
		row.HRBPM = float64(*r.HeartRate)
		row.ValidHR = true
	}
	if r.Cadence != nil {
		row.CadenceRPM = float64(*r.Cadence)
		row.ValidCadence = true
	}
	return row
}

func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// EncodeParquet writes records as a snappy compressed parquet file.
func EncodeParquet(records []fit.Record) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range records {
		if err := pw.Write(rowFromRecord(r)); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
