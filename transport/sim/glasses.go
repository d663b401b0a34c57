package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/logger"
	"github.com/user/glasslink/transport"
)

// Glasses is an in-process glasses peer implementing transport.Port. It
// reassembles what the host sends and answers the way the firmware does:
// an [opcode][0xC9] ack per write, battery reports, heartbeat echoes and a
// CRC verdict after each bitmap.
type Glasses struct {
	cfg   *Config
	radio *radio

	mu            sync.Mutex
	connected     bool
	notify        map[uuid.UUID]func([]byte)
	onDisconnect  func(error)
	autoAck       bool
	silent        map[byte]bool
	failConnects  int
	connectCalls  int
	writeHook     func([]byte)
	frames        [][]byte
	reassembler   *codec.Reassembler
	bitmap        codec.BitmapAssembler
	texts         []string
	notifications [][]byte
	whitelists    [][]byte
	images        [][]byte
	crcFailures   int
	heartbeats    int
	pings         int
	battery       int
	mic           bool
	brightness    []byte
	dashboard     []byte
	headUp        int
}

var _ transport.Port = (*Glasses)(nil)

// New creates a simulated peer; a nil config selects DefaultConfig
func New(cfg *Config) *Glasses {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Address == "" {
		cfg.Address = addressFromUUID(uuid.New())
	}
	if cfg.MaxWrite <= 0 {
		cfg.MaxWrite = codec.DefaultMaxWrite
	}
	return &Glasses{
		cfg:         cfg,
		radio:       newRadio(cfg),
		notify:      make(map[uuid.UUID]func([]byte)),
		autoAck:     true,
		silent:      make(map[byte]bool),
		reassembler: codec.NewReassembler(),
		battery:     cfg.Battery,
	}
}

// addressFromUUID derives a stable MAC-style address from a UUID
func addressFromUUID(id uuid.UUID) string {
	parts := make([]string, 6)
	for i := range parts {
		parts[i] = fmt.Sprintf("%02X", id[10+i])
	}
	return strings.Join(parts, ":")
}

func (g *Glasses) prefix() string {
	return "sim " + g.cfg.Name
}

// Device returns the handle the peer advertises
func (g *Glasses) Device() transport.DeviceHandle {
	return transport.DeviceHandle{
		Address: g.cfg.Address,
		Name:    g.cfg.Name,
		RSSI:    g.radio.rssi(),
	}
}

func (g *Glasses) Scan(ctx context.Context, match func(transport.DeviceHandle) bool) (<-chan transport.DeviceHandle, error) {
	if g.cfg.Unavailable {
		return nil, transport.ErrUnavailable
	}
	out := make(chan transport.DeviceHandle, 1)
	go func() {
		defer close(out)
		if !sleepCtx(ctx, g.cfg.AdvertisingDelay) {
			return
		}
		dev := g.Device()
		if match != nil && !match(dev) {
			// Nothing else advertises; keep scanning until cancelled
			<-ctx.Done()
			return
		}
		logger.Trace(g.prefix(), "advertising %s (rssi %d)", dev.Address, dev.RSSI)
		select {
		case out <- dev:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (g *Glasses) Connect(ctx context.Context, dev transport.DeviceHandle) error {
	if !sleepCtx(ctx, g.radio.connectDelay()) {
		return ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectCalls++
	if !strings.EqualFold(dev.Address, g.cfg.Address) {
		return fmt.Errorf("sim: no device at %s", dev.Address)
	}
	if g.failConnects > 0 {
		g.failConnects--
		return fmt.Errorf("sim: connection to %s failed", dev.Address)
	}
	if !g.radio.connectionSucceeds() {
		return fmt.Errorf("sim: connection to %s failed", dev.Address)
	}
	g.connected = true
	g.reassembler = codec.NewReassembler()
	g.bitmap.Reset()
	logger.Debug(g.prefix(), "connected")
	return nil
}

func (g *Glasses) Discover(ctx context.Context) (transport.ServiceHandles, error) {
	if !sleepCtx(ctx, g.cfg.DiscoverDelay) {
		return transport.ServiceHandles{}, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return transport.ServiceHandles{}, transport.ErrNotConnected
	}
	if g.cfg.NoUARTService {
		return transport.ServiceHandles{}, transport.ErrServiceNotFound
	}
	return transport.DefaultHandles(), nil
}

func (g *Glasses) SubscribeNotify(char uuid.UUID, fn func([]byte)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return transport.ErrNotConnected
	}
	g.notify[char] = fn
	return nil
}

func (g *Glasses) OnDisconnect(fn func(error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDisconnect = fn
}

// Disconnect is the host closing the link; the disconnect callback is not
// invoked.
func (g *Glasses) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	g.notify = make(map[uuid.UUID]func([]byte))
	return nil
}

func (g *Glasses) Write(char uuid.UUID, data []byte) error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return transport.ErrNotConnected
	}
	if char != transport.UARTTX {
		g.mu.Unlock()
		return fmt.Errorf("sim: write to unknown characteristic %s", char)
	}
	if len(data) == 0 {
		g.mu.Unlock()
		return fmt.Errorf("sim: empty write")
	}
	if len(data) > g.cfg.MaxWrite {
		g.mu.Unlock()
		return fmt.Errorf("sim: write of %d bytes exceeds max %d", len(data), g.cfg.MaxWrite)
	}
	frame := append([]byte{}, data...)
	g.frames = append(g.frames, frame)
	reply := g.handleLocked(frame)
	hook := g.writeHook
	deliver := g.autoAck && !g.silent[frame[0]]
	g.mu.Unlock()

	logger.TraceFrame(g.prefix(), "rx", frame)
	if hook != nil {
		hook(frame)
	}
	if reply != nil && deliver {
		g.respond(reply)
	}
	return nil
}

func ack(op byte, ok bool) []byte {
	if ok {
		return []byte{op, codec.StatusOK}
	}
	return []byte{op, codec.StatusFail}
}

// handleLocked applies one host frame to the peer state and returns the
// reply, if any.
func (g *Glasses) handleLocked(frame []byte) []byte {
	op := frame[0]
	switch op {
	case codec.OpText, codec.OpNotification, codec.OpWhitelist:
		c, err := codec.ParseChunk(frame)
		if err != nil {
			return ack(op, false)
		}
		payload, done, err := g.reassembler.Add(c)
		if err != nil {
			return ack(op, false)
		}
		if done {
			switch c.Kind {
			case codec.KindText:
				g.texts = append(g.texts, string(payload))
			case codec.KindNotification:
				g.notifications = append(g.notifications, payload)
			case codec.KindWhitelist:
				g.whitelists = append(g.whitelists, payload)
			}
		}
		return ack(op, true)

	case codec.OpBitmapBlock, codec.OpBitmapEnd:
		if _, _, err := g.bitmap.Add(frame); err != nil {
			g.bitmap.Reset()
			return ack(op, false)
		}
		return ack(op, true)

	case codec.OpBitmapCRC:
		_, ok, err := g.bitmap.Add(frame)
		if ok && err == nil {
			g.images = append(g.images, append([]byte{}, g.bitmap.Image()...))
		} else {
			g.crcFailures++
		}
		g.bitmap.Reset()
		reply := make([]byte, 0, 6)
		reply = append(reply, codec.OpBitmapCRC)
		if len(frame) == 5 {
			reply = append(reply, frame[1:5]...)
		} else {
			reply = binary.BigEndian.AppendUint32(reply, 0)
		}
		if ok {
			return append(reply, codec.StatusOK)
		}
		return append(reply, codec.StatusFail)

	case codec.OpHeartbeat:
		g.heartbeats++
		return frame

	case codec.OpBattery:
		return []byte{codec.OpBattery, codec.BatteryReport, byte(g.battery)}

	case codec.OpProtobuf:
		_, name, err := codec.DecodeNexRequest(frame)
		if err != nil {
			return nil
		}
		switch name {
		case codec.NexPing:
			g.pings++
			return nil
		case codec.NexDisconnect:
			return nil
		}
		reply, err := codec.NexBatteryStatus(g.battery, false)
		if err != nil {
			return nil
		}
		return reply

	case codec.OpMic:
		if len(frame) > 1 {
			g.mic = frame[1] == 0x01
		}
		return ack(op, true)

	case codec.OpBrightness:
		g.brightness = frame
		return ack(op, true)

	case codec.OpHeadUpAngle:
		if len(frame) > 1 {
			g.headUp = int(frame[1])
		}
		return ack(op, true)

	case codec.OpDashboardPos:
		g.dashboard = frame
		return ack(op, true)

	case codec.OpExit:
		return ack(op, true)
	}
	return nil
}

func (g *Glasses) respond(reply []byte) {
	if !g.radio.responseDelivered() {
		logger.Trace(g.prefix(), "dropped reply %s", logger.Hex(reply))
		return
	}
	if g.cfg.ResponseDelay <= 0 {
		go g.Inject(reply)
		return
	}
	time.AfterFunc(g.cfg.ResponseDelay, func() { g.Inject(reply) })
}

// Inject sends a notification from the glasses to the host, as if the
// firmware raised it. It is a no-op while disconnected or unsubscribed.
func (g *Glasses) Inject(frame []byte) {
	g.mu.Lock()
	fn := g.notify[transport.UARTRX]
	connected := g.connected
	g.mu.Unlock()
	if !connected || fn == nil {
		return
	}
	logger.TraceFrame(g.prefix(), "tx", frame)
	fn(frame)
}

// DropLink simulates the glasses going out of range. The host's disconnect
// callback is invoked with err.
func (g *Glasses) DropLink(err error) {
	g.mu.Lock()
	g.connected = false
	g.notify = make(map[uuid.UUID]func([]byte))
	cb := g.onDisconnect
	g.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("sim: link lost")
	}
	logger.Debug(g.prefix(), "link dropped: %v", err)
	if cb != nil {
		cb(err)
	}
}

// SetAutoAck turns automatic replies on or off
func (g *Glasses) SetAutoAck(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoAck = on
}

// SetSilent suppresses replies to one opcode
func (g *Glasses) SetSilent(op byte, silent bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silent[op] = silent
}

// FailNextConnects makes the next n connection attempts fail
func (g *Glasses) FailNextConnects(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failConnects = n
}

// OnWrite installs a hook called after each accepted write
func (g *Glasses) OnWrite(fn func(frame []byte)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeHook = fn
}

// SetBattery changes the level reported to battery queries
func (g *Glasses) SetBattery(level int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.battery = level
}

// Connected reports whether the host holds a link
func (g *Glasses) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// State is a snapshot of what the peer has received
type State struct {
	Frames        [][]byte
	Texts         []string
	Notifications [][]byte
	Whitelists    [][]byte
	Images        [][]byte
	CRCFailures   int
	Heartbeats    int
	Pings         int
	ConnectCalls  int
	Mic           bool
	Brightness    []byte
	Dashboard     []byte
	HeadUpAngle   int
}

// Snapshot copies the peer's received state
func (g *Glasses) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Frames:        append([][]byte{}, g.frames...),
		Texts:         append([]string{}, g.texts...),
		Notifications: append([][]byte{}, g.notifications...),
		Whitelists:    append([][]byte{}, g.whitelists...),
		Images:        append([][]byte{}, g.images...),
		CRCFailures:   g.crcFailures,
		Heartbeats:    g.heartbeats,
		Pings:         g.pings,
		ConnectCalls:  g.connectCalls,
		Mic:           g.mic,
		Brightness:    g.brightness,
		Dashboard:     g.dashboard,
		HeadUpAngle:   g.headUp,
	}
}

// FrameOpcodes lists the lead byte of every frame received, in order
func (s State) FrameOpcodes() []byte {
	ops := make([]byte, len(s.Frames))
	for i, f := range s.Frames {
		ops[i] = f[0]
	}
	return ops
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
