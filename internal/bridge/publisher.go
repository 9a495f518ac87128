package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// PublisherState follows Idle -> Publishing -> Stopped.
type PublisherState int

const (
	PublisherIdle PublisherState = iota
	PublisherPublishing
	PublisherStopped
)

func (s PublisherState) String() string {
	switch s {
	case PublisherPublishing:
		return "publishing"
	case PublisherStopped:
		return "stopped"
	}
	return "idle"
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	MQTT     MQTTTransport
	Status   *robot.StatusAggregator
	Topic    string
	QoS      byte
	Interval time.Duration
	// Timeout bounds one publish. It should stay below Interval.
	Timeout  time.Duration
	Recorder StatusRecorder
	Stats    *Stats
	Logger   *slog.Logger
	Now      func() time.Time
}

// Publisher samples the status aggregator on a timer and publishes the
// snapshot. Status is sampled, not transactional: a failed cycle is skipped
// and the next tick publishes fresher data.
type Publisher struct {
	cfg    PublisherConfig
	logger *slog.Logger
	stats  *Stats

	mu     sync.Mutex
	state  PublisherState
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPublishInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = publishTimeoutFor(cfg.Interval)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "publisher", "topic", cfg.Topic),
		stats:  cfg.Stats,
	}
}

// Start begins the publish cycle. Calling Start while publishing is a no-op;
// a stopped publisher cannot be restarted.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case PublisherPublishing:
		return nil
	case PublisherStopped:
		return ErrPublisherStopped
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = PublisherPublishing
	go p.run(loopCtx, p.done)

	p.logger.Info("status publishing started", "interval", p.cfg.Interval)
	return nil
}

// Stop halts the cycle and returns after the loop goroutine has exited.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PublisherPublishing {
		p.cancel()
		<-p.done
		p.logger.Info("status publishing stopped")
	}
	p.state = PublisherStopped
}

func (p *Publisher) State() PublisherState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishOnce(ctx); err != nil {
				if p.stats.PublishFailures.Add(1)%20 == 1 {
					p.logger.Warn("status publish skipped", "err", err)
				}
			}
		}
	}
}

// publishOnce runs one cycle: snapshot, stamp, encode, publish.
func (p *Publisher) publishOnce(ctx context.Context) error {
	at := p.cfg.Now()
	snap := p.cfg.Status.Snapshot()
	snap.UnixTime = unixTime(at)

	if p.cfg.Recorder != nil {
		p.cfg.Recorder.RecordStatus(snap, at)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()
	if err := p.cfg.MQTT.Publish(pubCtx, p.cfg.Topic, payload, p.cfg.QoS, false); err != nil {
		return err
	}
	p.stats.StatusPublished.Add(1)
	p.logger.Debug("status published", "bytes", len(payload))
	return nil
}

// unixTime formats t as "<seconds>.<microseconds>".
func unixTime(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
