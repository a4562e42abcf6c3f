package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"roomwatch/internal/models"
)

const readingMeasurement = "sensor_reading"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// TelemetryRepository writes raw readings to InfluxDB.
type TelemetryRepository struct {
	client influxdb2.Client
	writer pointWriter
}

// NewTelemetryRepository connects to InfluxDB and writes into org/bucket.
func NewTelemetryRepository(url, token, org, bucket string) *TelemetryRepository {
	client := influxdb2.NewClient(url, token)
	return &TelemetryRepository{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
	}
}

// WriteReading implements alerts.TelemetryWriter.
func (r *TelemetryRepository) WriteReading(ctx context.Context, reading models.SensorReading) error {
	if err := r.writer.WritePoint(ctx, readingPoint(reading)); err != nil {
		return unavailable("write reading", err)
	}
	return nil
}

// Ping reports whether the InfluxDB server is healthy.
func (r *TelemetryRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	h, err := r.client.Health(ctx)
	if err != nil {
		return unavailable("influx health", err)
	}
	if h.Status != "pass" {
		msg := ""
		if h.Message != nil {
			msg = *h.Message
		}
		return fmt.Errorf("%w: influx health %s: %s", ErrStoreUnavailable, h.Status, msg)
	}
	return nil
}

// Close releases the client.
func (r *TelemetryRepository) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

func readingPoint(reading models.SensorReading) *write.Point {
	tags := map[string]string{
		"sensor_id": reading.SensorID,
		"parameter": reading.Parameter,
	}
	if reading.SensorType != "" {
		tags["sensor_type"] = reading.SensorType
	}
	if reading.RoomID != "" {
		tags["room_id"] = reading.RoomID
	}
	return influxdb2.NewPoint(readingMeasurement, tags,
		map[string]interface{}{"value": reading.Value},
		reading.ObservedAt,
	)
}
