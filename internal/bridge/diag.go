package bridge

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// thermalZone is where Linux single-board computers expose the SoC temperature.
var thermalZone = "/sys/class/thermal/thermal_zone0/temp"

// DiagReport is published on the diag topic on request.
type DiagReport struct {
	RobotID         string        `json:"robot_id"`
	Dispatcher      string        `json:"dispatcher"`
	Publisher       string        `json:"publisher"`
	Uptime          string        `json:"uptime"`
	HeapAllocMB     float64       `json:"heap_alloc_mb"`
	Goroutines      int           `json:"goroutines"`
	CPUTemperature  *float64      `json:"cpu_temperature,omitempty"`
	IPAddress       string        `json:"ip_address"`
	Stats           StatsSnapshot `json:"stats"`
	Timestamp       int64         `json:"timestamp"`
	LastCommandUnix int64         `json:"last_command,omitempty"`
}

// Diag gathers a report of the bridge's current state.
func (b *Bridge) Diag() DiagReport {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	now := b.now()
	report := DiagReport{
		RobotID:        b.cfg.RobotID,
		Dispatcher:     b.dispatcher.State().String(),
		Publisher:      b.publisher.State().String(),
		Uptime:         formatUptime(now.Sub(b.started)),
		HeapAllocMB:    float64(m.HeapAlloc) / (1024 * 1024),
		Goroutines:     runtime.NumGoroutine(),
		CPUTemperature: cpuTemperature(),
		IPAddress:      localIP(),
		Stats:          b.stats.Snapshot(),
		Timestamp:      now.Unix(),
	}
	if updated := b.commands.Updated(); !updated.IsZero() {
		report.LastCommandUnix = updated.Unix()
	}
	return report
}

// handleDiagRequest answers any message on the diag request topic. The
// request payload is ignored.
func (b *Bridge) handleDiagRequest(_ []byte) {
	if !b.accepting.Load() {
		return
	}
	payload, err := json.Marshal(b.Diag())
	if err != nil {
		b.logger.Error("failed to marshal diag report", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PublishTimeout)
	defer cancel()
	topic := robot.DiagTopic(b.cfg.RobotID)
	if err := b.mqtt.Publish(ctx, topic, payload, 0, false); err != nil {
		b.logger.Warn("failed to publish diag report", "topic", topic, "err", err)
		return
	}
	b.logger.Debug("diag report published", "topic", topic)
}

// Presence is the retained record on the online topic. The same shape with
// Online false is registered as the MQTT last will.
type Presence struct {
	RobotID   string `json:"robot_id"`
	Online    bool   `json:"online"`
	IPAddress string `json:"ip_address,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PresencePayload encodes a presence record. A zero time leaves the
// timestamp out.
func PresencePayload(robotID string, online bool, ip string, at time.Time) []byte {
	p := Presence{RobotID: robotID, Online: online, IPAddress: ip}
	if !at.IsZero() {
		p.Timestamp = at.Unix()
	}
	// A struct of strings, bools and ints always marshals.
	payload, _ := json.Marshal(p)
	return payload
}

func (b *Bridge) publishPresence(ctx context.Context, online bool) {
	topic := robot.OnlineTopic(b.cfg.RobotID)
	payload := PresencePayload(b.cfg.RobotID, online, localIP(), b.now())

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.PublishTimeout)
	defer cancel()
	if err := b.mqtt.Publish(pubCtx, topic, payload, 1, true); err != nil {
		b.logger.Warn("failed to publish presence", "topic", topic, "online", online, "err", err)
	}
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

// cpuTemperature returns the SoC temperature in °C, or nil where the board
// does not expose one.
func cpuTemperature() *float64 {
	raw, err := os.ReadFile(thermalZone)
	if err != nil {
		return nil
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil
	}
	c := float64(milli) / 1000
	return &c
}

// localIP returns the first non-loopback IPv4 address, or "unknown".
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "unknown"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "unknown"
}
