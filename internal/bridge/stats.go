package bridge

import (
	"sync"
	"sync/atomic"
)

// Stats counts what the bridge did since start. All methods are safe for
// concurrent use.
type Stats struct {
	FramesReceived  atomic.Uint64
	FramesUnknown   atomic.Uint64
	FramesMalformed atomic.Uint64
	ChecksumErrors  atomic.Uint64
	CounterGaps     atomic.Uint64

	FramesSent   atomic.Uint64
	SendFailures atomic.Uint64

	StatusPublished atomic.Uint64
	PublishFailures atomic.Uint64

	CommandsAccepted atomic.Uint64
	CommandsRejected atomic.Uint64
	CommandsInvalid  atomic.Uint64
	Stops            atomic.Uint64

	mu       sync.Mutex
	counters map[uint32]uint8
}

// observeCounter records the alive counter of a received frame and reports
// whether it skipped ahead of the previous frame with the same identifier.
func (s *Stats) observeCounter(id uint32, counter uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters == nil {
		s.counters = make(map[uint32]uint8)
	}
	last, seen := s.counters[id]
	s.counters[id] = counter
	return seen && counter != (last+1)&0x0F
}

// StatsSnapshot is a plain copy of Stats for reporting.
type StatsSnapshot struct {
	FramesReceived   uint64 `json:"frames_received"`
	FramesUnknown    uint64 `json:"frames_unknown"`
	FramesMalformed  uint64 `json:"frames_malformed"`
	ChecksumErrors   uint64 `json:"checksum_errors"`
	CounterGaps      uint64 `json:"counter_gaps"`
	FramesSent       uint64 `json:"frames_sent"`
	SendFailures     uint64 `json:"send_failures"`
	StatusPublished  uint64 `json:"status_published"`
	PublishFailures  uint64 `json:"publish_failures"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsRejected uint64 `json:"commands_rejected"`
	CommandsInvalid  uint64 `json:"commands_invalid"`
	Stops            uint64 `json:"stops"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesReceived:   s.FramesReceived.Load(),
		FramesUnknown:    s.FramesUnknown.Load(),
		FramesMalformed:  s.FramesMalformed.Load(),
		ChecksumErrors:   s.ChecksumErrors.Load(),
		CounterGaps:      s.CounterGaps.Load(),
		FramesSent:       s.FramesSent.Load(),
		SendFailures:     s.SendFailures.Load(),
		StatusPublished:  s.StatusPublished.Load(),
		PublishFailures:  s.PublishFailures.Load(),
		CommandsAccepted: s.CommandsAccepted.Load(),
		CommandsRejected: s.CommandsRejected.Load(),
		CommandsInvalid:  s.CommandsInvalid.Load(),
		Stops:            s.Stops.Load(),
	}
}
