package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"roomwatch/internal/models"
)

type mockPointWriter struct {
	points []*write.Point
	err    error
}

func (m *mockPointWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	m.points = append(m.points, point...)
	return m.err
}

func TestReadingPoint(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	p := readingPoint(models.SensorReading{
		SensorID: "s1", SensorType: "DHT22", RoomID: "r1", Parameter: "temperature", Value: 21.5, ObservedAt: at,
	})

	if p.Name() != "sensor_reading" {
		t.Errorf("measurement = %s", p.Name())
	}
	if !p.Time().Equal(at) {
		t.Errorf("time = %v", p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	want := map[string]string{"sensor_id": "s1", "parameter": "temperature", "sensor_type": "DHT22", "room_id": "r1"}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, tags[k], v)
		}
	}

	fields := p.FieldList()
	if len(fields) != 1 || fields[0].Key != "value" || fields[0].Value != 21.5 {
		t.Errorf("fields = %+v", fields)
	}
}

func TestReadingPoint_OmitsEmptyTags(t *testing.T) {
	p := readingPoint(models.SensorReading{SensorID: "s1", Parameter: "gas", Value: 1, ObservedAt: time.Now()})
	if n := len(p.TagList()); n != 2 {
		t.Errorf("tags = %d, want 2", n)
	}
}

func TestTelemetryRepository_WriteReading(t *testing.T) {
	w := &mockPointWriter{}
	repo := &TelemetryRepository{writer: w}

	err := repo.WriteReading(context.Background(), models.SensorReading{SensorID: "s1", Parameter: "gas", Value: 3, ObservedAt: time.Now()})
	if err != nil || len(w.points) != 1 {
		t.Fatalf("err = %v, points = %d", err, len(w.points))
	}

	w.err = errors.New("bucket not found")
	if err := repo.WriteReading(context.Background(), models.SensorReading{SensorID: "s1", Parameter: "gas", ObservedAt: time.Now()}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping() without client = %v", err)
	}
}
