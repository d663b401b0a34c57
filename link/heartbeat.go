package link

import (
	"sync"
	"time"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/logger"
)

// Flavour selects the firmware dialect for keepalives
type Flavour string

const (
	FlavourG1  Flavour = "g1"  // 0x25 heartbeat, 0x2C battery query
	FlavourNex Flavour = "nex" // protobuf ping and battery_state requests
)

// answersPing reports whether the firmware replies to the keepalive itself.
// Nex firmware drops pings, so its liveness rests on battery_state replies.
func (f Flavour) answersPing() bool {
	return f != FlavourNex
}

// HeartbeatOptions tunes the keepalive
type HeartbeatOptions struct {
	Interval     time.Duration // Default: 15s
	BatteryEvery int           // Default: 10
	BatteryDelay time.Duration // Default: 500ms
	MaxMissed    int           // Default: 3
	Flavour      Flavour
}

func DefaultHeartbeatOptions() HeartbeatOptions {
	return HeartbeatOptions{
		Interval:     15 * time.Second,
		BatteryEvery: 10,
		BatteryDelay: 500 * time.Millisecond,
		MaxMissed:    3,
		Flavour:      FlavourG1,
	}
}

// Heartbeat enqueues a keepalive every interval and polls the battery on
// every BatteryEvery-th beat, or on every beat while the level is unknown.
type Heartbeat struct {
	opts    HeartbeatOptions
	queue   *Queue
	live    *LiveState
	prefix  string
	onStale func(missed int)
	seq     codec.Sequence

	mu       sync.Mutex
	running  bool
	gen      uint64
	interval time.Duration
	timer    *time.Timer
	pending  *time.Timer
}

func NewHeartbeat(prefix string, queue *Queue, live *LiveState, opts HeartbeatOptions, onStale func(missed int)) *Heartbeat {
	def := DefaultHeartbeatOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.BatteryEvery <= 0 {
		opts.BatteryEvery = def.BatteryEvery
	}
	if opts.MaxMissed <= 0 {
		opts.MaxMissed = def.MaxMissed
	}
	if opts.Flavour == "" {
		opts.Flavour = FlavourG1
	}
	return &Heartbeat{
		opts:    opts,
		queue:   queue,
		live:    live,
		prefix:  prefix + " heartbeat",
		onStale: onStale,
	}
}

// Start begins beating every interval, restarting if already running. A
// zero interval uses the configured one.
func (h *Heartbeat) Start(interval time.Duration) {
	if interval <= 0 {
		interval = h.opts.Interval
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	h.running = true
	h.gen++
	h.interval = interval
	gen := h.gen
	h.timer = time.AfterFunc(interval, func() { h.tick(gen) })
	logger.Debug(h.prefix, "started every %v", interval)
}

// Stop cancels the timer. It is safe to call when not running.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		logger.Debug(h.prefix, "stopped")
	}
	h.stopLocked()
}

func (h *Heartbeat) stopLocked() {
	h.running = false
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.pending != nil {
		h.pending.Stop()
		h.pending = nil
	}
}

func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Heartbeat) current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running && h.gen == gen
}

func (h *Heartbeat) tick(gen uint64) {
	if !h.current(gen) {
		return
	}
	h.beat(gen)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running && h.gen == gen {
		h.timer = time.AfterFunc(h.interval, func() { h.tick(gen) })
	}
}

// beat sends one keepalive, or reports the link stale when too many probes
// are unanswered.
func (h *Heartbeat) beat(gen uint64) {
	if missed := h.live.outstanding(); missed >= h.opts.MaxMissed {
		logger.Warn(h.prefix, "%d liveness probes unanswered", missed)
		h.mu.Lock()
		h.stopLocked()
		h.mu.Unlock()
		if h.onStale != nil {
			h.onStale(missed)
		}
		return
	}

	frame, err := h.heartbeatFrame()
	if err != nil {
		logger.Error(h.prefix, "build heartbeat: %v", err)
		return
	}
	answered := h.opts.Flavour.answersPing()
	if err := h.queue.Enqueue(OutboundItem{Payload: frame, Label: "heartbeat", NoAck: !answered}); err != nil {
		logger.Debug(h.prefix, "enqueue heartbeat: %v", err)
		return
	}
	count, _ := h.live.heartbeatSent(time.Now(), answered)
	logger.Trace(h.prefix, "beat %d", count)

	if count%h.opts.BatteryEvery == 0 || h.live.battery() == -1 {
		h.scheduleBatteryQuery(gen)
	}
}

func (h *Heartbeat) scheduleBatteryQuery(gen uint64) {
	if h.opts.BatteryDelay <= 0 {
		h.queryBattery()
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		h.pending.Stop()
	}
	h.pending = time.AfterFunc(h.opts.BatteryDelay, func() {
		if h.current(gen) {
			h.queryBattery()
		}
	})
}

func (h *Heartbeat) queryBattery() {
	frame, err := h.batteryFrame()
	if err != nil {
		logger.Error(h.prefix, "build battery query: %v", err)
		return
	}
	if err := h.queue.Enqueue(OutboundItem{Payload: frame, Label: "battery query"}); err != nil {
		logger.Debug(h.prefix, "enqueue battery query: %v", err)
		return
	}
	if !h.opts.Flavour.answersPing() {
		h.live.probeSent()
	}
}

func (h *Heartbeat) heartbeatFrame() ([]byte, error) {
	if h.opts.Flavour == FlavourNex {
		return codec.NexRequest(codec.NexPing)
	}
	return codec.Heartbeat(h.seq.Next()), nil
}

func (h *Heartbeat) batteryFrame() ([]byte, error) {
	if h.opts.Flavour == FlavourNex {
		return codec.NexRequest(codec.NexBatteryState)
	}
	return codec.BatteryQuery(), nil
}

// QueryBattery enqueues an immediate battery query
func (h *Heartbeat) QueryBattery() error {
	frame, err := h.batteryFrame()
	if err != nil {
		return err
	}
	return h.queue.Enqueue(OutboundItem{Payload: frame, Label: "battery query"})
}
