package link

import (
	"sync"
	"time"

	"github.com/user/glasslink/codec"
)

// CaseState is the last known charging case report
type CaseState struct {
	Battery  int  `json:"battery"` // -1 until reported
	Charging bool `json:"charging"`
	Open     bool `json:"open"`
	Removed  bool `json:"removed"`
}

// Live is a snapshot of heartbeat and battery bookkeeping
type Live struct {
	LastHeartbeatSent time.Time `json:"last_heartbeat_sent"`
	LastHeartbeatAck  time.Time `json:"last_heartbeat_ack"`
	Heartbeats        int       `json:"heartbeats"`
	Outstanding       int       `json:"outstanding"`
	Battery           int       `json:"battery"` // -1 until reported
	Charging          bool      `json:"charging"`
	Case              CaseState `json:"case"`
}

// LiveState is written by the heartbeat on send and by the decoder on
// receive, and read by the host.
type LiveState struct {
	mu   sync.RWMutex
	live Live
}

func NewLiveState() *LiveState {
	return &LiveState{live: Live{Battery: -1, Case: CaseState{Battery: -1}}}
}

func (s *LiveState) Snapshot() Live {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// heartbeatSent records a beat and returns the new beat count plus the
// number of probes that were already unanswered. A beat the peer never
// answers does not add to the outstanding count.
func (s *LiveState) heartbeatSent(now time.Time, answered bool) (count, outstanding int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outstanding = s.live.Outstanding
	s.live.Heartbeats++
	if answered {
		s.live.Outstanding++
	}
	s.live.LastHeartbeatSent = now
	return s.live.Heartbeats, outstanding
}

// probeSent counts a liveness probe other than the heartbeat itself
func (s *LiveState) probeSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Outstanding++
}

func (s *LiveState) outstanding() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live.Outstanding
}

func (s *LiveState) heartbeatAcked(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Outstanding = 0
	s.live.LastHeartbeatAck = now
}

// resetLink clears per-connection counters. Battery and case state survive
// reconnects.
func (s *LiveState) resetLink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Heartbeats = 0
	s.live.Outstanding = 0
}

func (s *LiveState) battery() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live.Battery
}

func (s *LiveState) setBattery(b codec.BatteryLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Battery = b.Percent
	if b.Charging != nil {
		s.live.Charging = *b.Charging
	}
}

// applyCase folds a case report into the state and returns the result
func (s *LiveState) applyCase(ev codec.CaseEvent) CaseState {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.live.Case
	switch ev.Kind {
	case codec.CaseRemoved:
		c.Removed = true
		c.Open = false
	case codec.CaseOpened:
		c.Open = true
		c.Removed = false
	case codec.CaseClosed:
		c.Open = false
		c.Removed = false
	case codec.CaseCharging:
		c.Charging = ev.Value == 1
	case codec.CaseBattery:
		c.Battery = ev.Value
	}
	return *c
}
