package recorder

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

type collector[T any] struct {
	mu      sync.Mutex
	batches [][]T
	err     error
}

func (c *collector[T]) flush(_ context.Context, batch []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]T(nil), batch...))
	return c.err
}

func (c *collector[T]) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestBatcherFlushesAtSize(t *testing.T) {
	c := &collector[int]{}
	b := newBatcher(3, time.Hour, slog.Default(), c.flush)
	defer b.close()

	for i := 0; i < 3; i++ {
		b.add(i)
	}
	deadline := time.Now().Add(time.Second)
	for c.total() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("batch of 3 not flushed, got %d records", c.total())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	c := &collector[int]{}
	b := newBatcher(100, 10*time.Millisecond, slog.Default(), c.flush)
	defer b.close()

	b.add(1)
	deadline := time.Now().Add(time.Second)
	for c.total() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("record not flushed on interval")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatcherCloseDrains(t *testing.T) {
	c := &collector[int]{}
	b := newBatcher(100, time.Hour, slog.Default(), c.flush)
	for i := 0; i < 10; i++ {
		b.add(i)
	}
	b.close()
	if c.total() != 10 {
		t.Fatalf("flushed %d records on close, want 10", c.total())
	}
	if b.add(11) {
		t.Error("add accepted after close")
	}
	b.close()
}

func TestBatcherSurvivesFlushErrors(t *testing.T) {
	c := &collector[int]{err: errors.New("sink down")}
	b := newBatcher(1, time.Hour, slog.Default(), c.flush)
	b.add(1)
	b.add(2)
	b.close()
	if c.total() != 2 {
		t.Fatalf("flushed %d records, want 2", c.total())
	}
}

type fakePointWriter struct {
	mu     sync.Mutex
	points []*influxdb3.Point
	closed bool
}

func (f *fakePointWriter) WritePoints(_ context.Context, points []*influxdb3.Point, _ ...influxdb3.WriteOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, points...)
	return nil
}

func (f *fakePointWriter) Close() error {
	f.closed = true
	return nil
}

func TestInfluxRecordsStatus(t *testing.T) {
	w := &fakePointWriter{}
	r := newInflux(w, InfluxConfig{})

	status := robot.NewStatus("07")
	status.Speed = 1.5
	status.BatteryIsCharging = true
	r.RecordStatus(status, time.Unix(1700000000, 0))

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !w.closed {
		t.Error("client not closed")
	}
	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	p := w.points[0].Values
	if p.GetMeasurement() != "robot_status" {
		t.Errorf("measurement = %q", p.GetMeasurement())
	}
	if id, ok := p.GetTag("robot_id"); !ok || id != "07" {
		t.Errorf("robot_id tag = %q, %v", id, ok)
	}
	if v := p.GetField("speed"); v != 1.5 {
		t.Errorf("speed field = %v", v)
	}
	if v := p.GetField("battery_is_charging"); v != true {
		t.Errorf("charging field = %v", v)
	}
}

func TestFrameRow(t *testing.T) {
	at := time.Unix(1700000000, 123000)
	frame := canframe.NewFrame(canframe.BatteryFeedbackID, []byte{1, 2, 3})
	got := frameRow("07", frameRecord{direction: canframe.Inbound, frame: frame, at: at})
	want := []any{at, "07", canframe.Inbound.String(), canframe.BatteryFeedbackID, []uint8{1, 2, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("frameRow = %#v, want %#v", got, want)
	}
}

func TestCreateTableQuery(t *testing.T) {
	q := createTableQuery("can_frames")
	for _, col := range []string{"CREATE TABLE IF NOT EXISTS can_frames", "robot_id String", "direction String", "data Array(UInt8)"} {
		if !strings.Contains(q, col) {
			t.Errorf("query missing %q", col)
		}
	}
}

func TestTableNameValidation(t *testing.T) {
	for _, name := range []string{"can_frames", "robots.can_frames", "_t1"} {
		if !tableName.MatchString(name) {
			t.Errorf("%q rejected", name)
		}
	}
	for _, name := range []string{"", "1abc", "frames; DROP TABLE x", "a.b.c"} {
		if tableName.MatchString(name) {
			t.Errorf("%q accepted", name)
		}
	}
}
