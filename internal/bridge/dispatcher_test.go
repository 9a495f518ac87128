package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

func newTestDispatcher(can *fakeCAN, interval, commandTimeout time.Duration) (*Dispatcher, *Stats) {
	stats := &Stats{}
	return NewDispatcher(DispatcherConfig{
		RobotID:        "01",
		CAN:            can,
		Interval:       interval,
		SendTimeout:    10 * time.Millisecond,
		CommandTimeout: commandTimeout,
		Stats:          stats,
	}), stats
}

func drive(gear int, speed float64) robot.ControlCommand {
	return robot.ControlCommand{RobotID: "01", Gear: gear, Speed: speed, Steer: 3}
}

func TestDispatcherStartsOnFirstCommand(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, stats := newTestDispatcher(can, 5*time.Millisecond, 0)
	defer d.Stop()

	if d.State() != DispatcherStopped {
		t.Fatalf("initial state = %v", d.State())
	}
	if err := d.HandleCommand(drive(robot.GearNeutral, 0.8)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if d.State() != DispatcherRunning {
		t.Fatalf("state = %v, want running", d.State())
	}
	waitFor(t, time.Second, "five frames", func() bool { return len(can.frames()) >= 5 })

	f := decodeControl(t, can.frames()[0])
	if f.Gear != robot.GearNeutral || f.Speed != 0.8 || f.AngularVelocity != 3 {
		t.Errorf("first frame = %+v", f)
	}
	if !f.ChecksumOK {
		t.Error("sent frame has a bad checksum")
	}
	if stats.CommandsAccepted.Load() != 1 {
		t.Errorf("CommandsAccepted = %d", stats.CommandsAccepted.Load())
	}
}

func TestDispatcherAliveCounterRolls(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, _ := newTestDispatcher(can, time.Millisecond, 0)
	if err := d.HandleCommand(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	waitFor(t, 2*time.Second, "twenty frames", func() bool { return len(can.frames()) >= 20 })
	d.Stop()

	frames := can.frames()
	for i, f := range frames {
		if got := decodeControl(t, f).Counter; got != uint8(i%16) {
			t.Fatalf("frame %d counter = %d, want %d", i, got, i%16)
		}
	}
}

func TestDispatcherGearZeroStops(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, stats := newTestDispatcher(can, 2*time.Millisecond, 0)
	if err := d.HandleCommand(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	waitFor(t, time.Second, "first frame", func() bool { return len(can.frames()) > 0 })

	if err := d.HandleCommand(drive(robot.GearDisable, 1)); err != nil {
		t.Fatalf("HandleCommand(gear 0): %v", err)
	}
	if d.State() != DispatcherStopped {
		t.Fatalf("state = %v after gear 0", d.State())
	}
	n := len(can.frames())
	time.Sleep(20 * time.Millisecond)
	if got := len(can.frames()); got != n {
		t.Errorf("%d frames sent after gear 0 stop", got-n)
	}
	if stats.Stops.Load() != 1 {
		t.Errorf("Stops = %d", stats.Stops.Load())
	}

	// A zero gear while stopped sends nothing.
	if err := d.HandleCommand(drive(robot.GearDisable, 0)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if d.State() != DispatcherStopped || len(can.frames()) != n {
		t.Error("gear 0 while stopped started transmission")
	}
}

func TestDispatcherIdentityMismatchStops(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, stats := newTestDispatcher(can, 2*time.Millisecond, 0)
	if err := d.HandleCommand(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}

	other := drive(robot.GearFR, 2)
	other.RobotID = "02"
	err := d.HandleCommand(other)
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("HandleCommand = %v, want ErrIdentityMismatch", err)
	}
	if d.State() != DispatcherStopped {
		t.Fatalf("state = %v after mismatch", d.State())
	}
	if stats.CommandsRejected.Load() != 1 {
		t.Errorf("CommandsRejected = %d", stats.CommandsRejected.Load())
	}
	for _, f := range can.frames() {
		if decodeControl(t, f).Speed == 2 {
			t.Fatal("command for another robot reached the bus")
		}
	}
}

func TestDispatcherLastWriterWins(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, _ := newTestDispatcher(can, 2*time.Millisecond, 0)
	defer d.Stop()

	for _, speed := range []float64{0.5, 1.0, 1.5} {
		if err := d.HandleCommand(drive(robot.GearFR, speed)); err != nil {
			t.Fatalf("HandleCommand: %v", err)
		}
	}
	waitFor(t, time.Second, "latest command on the bus", func() bool {
		frames := can.frames()
		return len(frames) > 0 && decodeControl(t, frames[len(frames)-1]).Speed == 1.5
	})
	if d.State() != DispatcherRunning {
		t.Errorf("state = %v", d.State())
	}
}

func TestDispatcherStopIsIdempotent(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, _ := newTestDispatcher(can, 2*time.Millisecond, 0)
	d.Stop()
	if err := d.Start(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()
	d.Stop()
	if d.State() != DispatcherStopped {
		t.Errorf("state = %v", d.State())
	}
	n := len(can.frames())
	time.Sleep(10 * time.Millisecond)
	if len(can.frames()) != n {
		t.Error("frames sent after Stop returned")
	}
}

func TestDispatcherStartRestarts(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, _ := newTestDispatcher(can, time.Hour, 0)
	defer d.Stop()

	// With a one-hour cadence only the immediate first frame of each run
	// goes out.
	if err := d.Start(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, "first run frame", func() bool { return len(can.frames()) == 1 })
	if err := d.Start(drive(robot.GearFR, 2)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, "second run frame", func() bool { return len(can.frames()) == 2 })
	if got := decodeControl(t, can.frames()[1]).Speed; got != 2 {
		t.Errorf("restarted run sent speed %v", got)
	}
}

func TestDispatcherSurvivesSendFailures(t *testing.T) {
	can := &fakeCAN{connected: true, sendErr: errors.New("bus off")}
	d, stats := newTestDispatcher(can, time.Millisecond, 0)
	defer d.Stop()

	if err := d.HandleCommand(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	waitFor(t, time.Second, "send failures", func() bool { return stats.SendFailures.Load() >= 3 })
	if d.State() != DispatcherRunning {
		t.Fatalf("loop died on send failure")
	}

	can.setSendErr(nil)
	waitFor(t, time.Second, "recovery", func() bool { return len(can.frames()) > 0 })
}

func TestDispatcherCommandTimeout(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, stats := newTestDispatcher(can, 2*time.Millisecond, 30*time.Millisecond)
	defer d.Stop()

	if err := d.HandleCommand(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	waitFor(t, time.Second, "deadman stop", func() bool { return d.State() == DispatcherStopped })
	if stats.Stops.Load() != 1 {
		t.Errorf("Stops = %d", stats.Stops.Load())
	}

	// A fresh command starts a new run.
	if err := d.HandleCommand(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if d.State() != DispatcherRunning {
		t.Errorf("state = %v after fresh command", d.State())
	}
}

func TestDispatcherEncodesSteerAsAngularVelocity(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, _ := newTestDispatcher(can, time.Hour, 0)
	defer d.Stop()

	cmd := robot.ControlCommand{RobotID: "01", Gear: robot.GearCrab, Speed: -0.25, Steer: -12.5, SideSlip: 4}
	if err := d.HandleCommand(cmd); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	waitFor(t, time.Second, "frame", func() bool { return len(can.frames()) == 1 })
	f := can.frames()[0]
	if f.ID != canframe.ControlCommandID {
		t.Fatalf("frame id = %08X", f.ID)
	}
	got := decodeControl(t, f)
	if got.Gear != robot.GearCrab || got.Speed != -0.25 || got.AngularVelocity != -12.5 || got.SideSlip != 4 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestDispatcherCloseRefusesCommands(t *testing.T) {
	can := &fakeCAN{connected: true}
	d, _ := newTestDispatcher(can, 2*time.Millisecond, 0)
	if err := d.HandleCommand(drive(robot.GearFR, 1)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	waitFor(t, time.Second, "first frame", func() bool { return len(can.frames()) > 0 })

	d.Close()
	if d.State() != DispatcherStopped {
		t.Fatalf("state = %v after Close", d.State())
	}
	n := len(can.frames())
	if err := d.HandleCommand(drive(robot.GearFR, 2)); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("HandleCommand after Close = %v, want ErrDispatcherClosed", err)
	}
	if err := d.Start(drive(robot.GearFR, 2)); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Start after Close = %v, want ErrDispatcherClosed", err)
	}
	d.Close()
	time.Sleep(10 * time.Millisecond)
	if got := len(can.frames()); got != n {
		t.Errorf("%d frames sent after Close", got-n)
	}
}
