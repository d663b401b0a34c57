// Package link owns one connection to a pair of glasses: the connection
// state machine, the flow-controlled send queue, the heartbeat and the
// inbound frame router.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/glasslink/logger"
	"github.com/user/glasslink/transport"
)

// State is a connection state
type State int

const (
	Idle State = iota
	Scanning
	Connecting
	Discovering
	Ready
	Disconnected
	Destroyed
)

var stateNames = [...]string{"idle", "scanning", "connecting", "discovering", "ready", "disconnected", "destroyed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Options configures a Link
type Options struct {
	Queue         QueueOptions
	Heartbeat     HeartbeatOptions
	SettleDelay   time.Duration // Default: 350ms
	ReconnectBase time.Duration // Default: 3s
	ReconnectMax  time.Duration // Default: 60s
	ScanTimeout   time.Duration // 0 scans until a match
	AudioDecoder  AudioDecoder
	AudioBacklog  int
	NoHeartbeat   bool
}

func DefaultOptions() Options {
	return Options{
		Queue:         DefaultQueueOptions(),
		Heartbeat:     DefaultHeartbeatOptions(),
		SettleDelay:   350 * time.Millisecond,
		ReconnectBase: 3 * time.Second,
		ReconnectMax:  60 * time.Second,
	}
}

// Backoff returns min(base * 2^attempt, max)
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Info describes the connection for the host
type Info struct {
	Session     uuid.UUID              `json:"session"`
	State       State                  `json:"state"`
	Device      transport.DeviceHandle `json:"device"`
	Attempts    int                    `json:"attempts"`
	LastConnect time.Time              `json:"last_connect"`
}

// Link is one logical connection to one peer. It is the only component
// that opens or closes the transport.
type Link struct {
	port    transport.Port
	opts    Options
	session uuid.UUID
	prefix  string

	bus       *Bus
	queue     *Queue
	live      *LiveState
	heartbeat *Heartbeat
	inbound   *inbound

	mu          sync.Mutex
	state       State
	selector    transport.Selector
	device      transport.DeviceHandle
	handles     transport.ServiceHandles
	attempts    int
	lastConnect time.Time
	gen         uint64
	cancel      context.CancelFunc
	retry       *time.Timer
	onReady     []func()
}

// New wires a Link to port. Nothing touches the radio until Connect.
func New(port transport.Port, opts Options) *Link {
	def := DefaultOptions()
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = def.ReconnectBase
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}

	l := &Link{
		port:    port,
		opts:    opts,
		session: uuid.New(),
		bus:     NewBus(),
		live:    NewLiveState(),
		handles: transport.DefaultHandles(),
	}
	l.prefix = l.session.String()[:8] + " link"
	l.queue = NewQueue(l.session.String()[:8], l.write, opts.Queue, l.bus)
	l.heartbeat = NewHeartbeat(l.session.String()[:8], l.queue, l.live, opts.Heartbeat, l.stale)
	l.inbound = newInbound(l.session.String()[:8], l.queue, l.live, l.bus, opts.AudioDecoder, opts.AudioBacklog)
	port.OnDisconnect(l.linkLost)
	return l
}

func (l *Link) Session() uuid.UUID    { return l.session }
func (l *Link) Bus() *Bus             { return l.bus }
func (l *Link) Queue() *Queue         { return l.queue }
func (l *Link) Heartbeat() *Heartbeat { return l.heartbeat }
func (l *Link) Live() Live            { return l.live.Snapshot() }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Info{
		Session:     l.session,
		State:       l.state,
		Device:      l.device,
		Attempts:    l.attempts,
		LastConnect: l.lastConnect,
	}
}

// OnReady registers fn to run each time the link becomes ready, after the
// queue is opened.
func (l *Link) OnReady(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReady = append(l.onReady, fn)
}

// Enqueue hands items to the send queue
func (l *Link) Enqueue(items ...OutboundItem) error {
	return l.queue.Enqueue(items...)
}

func (l *Link) write(frame []byte) error {
	l.mu.Lock()
	tx := l.handles.TX
	l.mu.Unlock()
	return l.port.Write(tx, frame)
}

func (l *Link) setStateLocked(to State, err error) {
	from := l.state
	if from == to {
		return
	}
	l.state = to
	ev := ConnectionStateChanged{From: from, To: to, Address: l.device.Address}
	if err != nil {
		ev.Error = err.Error()
		logger.Info(l.prefix, "%s -> %s: %v", from, to, err)
	} else {
		logger.Info(l.prefix, "%s -> %s", from, to)
	}
	l.bus.Publish(EventConnectionState, ev)
}

// Connect starts scanning for a peer matching sel and returns once the scan
// is running. Progress is reported through state change events. Connecting
// an already active link is a no-op.
func (l *Link) Connect(sel transport.Selector) error {
	l.mu.Lock()
	switch l.state {
	case Destroyed:
		l.mu.Unlock()
		return ErrDestroyed
	case Scanning, Connecting, Discovering, Ready:
		l.mu.Unlock()
		return nil
	}
	l.selector = sel
	l.attempts = 0
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
	l.mu.Unlock()
	return l.attempt()
}

// attempt runs one scan-connect-discover cycle
func (l *Link) attempt() error {
	l.mu.Lock()
	if l.state == Destroyed {
		l.mu.Unlock()
		return ErrDestroyed
	}
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	sel := l.selector
	l.setStateLocked(Scanning, nil)
	l.mu.Unlock()

	scanCtx, stopScan := context.WithCancel(ctx)
	if l.opts.ScanTimeout > 0 {
		stopScan()
		scanCtx, stopScan = context.WithTimeout(ctx, l.opts.ScanTimeout)
	}

	devices, err := l.port.Scan(scanCtx, sel.Match)
	if err != nil {
		stopScan()
		if errors.Is(err, transport.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
			l.mu.Lock()
			if l.gen == gen {
				cancel()
				l.setStateLocked(Idle, err)
			}
			l.mu.Unlock()
			return err
		}
		l.failed(gen, fmt.Errorf("%w: scan: %v", ErrConnectFailed, err))
		return nil
	}

	go l.establish(ctx, gen, devices, stopScan)
	return nil
}

func (l *Link) establish(ctx context.Context, gen uint64, devices <-chan transport.DeviceHandle, stopScan context.CancelFunc) {
	var dev transport.DeviceHandle
	select {
	case d, ok := <-devices:
		stopScan()
		if !ok {
			if ctx.Err() == nil {
				l.failed(gen, fmt.Errorf("%w: no matching device found", ErrConnectFailed))
			}
			return
		}
		dev = d
	case <-ctx.Done():
		stopScan()
		return
	}

	if !l.advance(gen, Scanning, Connecting, &dev) {
		return
	}
	logger.Info(l.prefix, "connecting to %s (%s, rssi %d)", dev.Name, dev.Address, dev.RSSI)
	if err := l.port.Connect(ctx, dev); err != nil {
		if ctx.Err() == nil {
			l.failed(gen, fmt.Errorf("%w: %v", ErrConnectFailed, err))
		}
		return
	}

	if !l.advance(gen, Connecting, Discovering, nil) {
		_ = l.port.Disconnect()
		return
	}
	handles, err := l.port.Discover(ctx)
	if err != nil {
		l.failed(gen, fmt.Errorf("%w: %v", ErrDiscoverFailed, err))
		return
	}
	if err := l.port.SubscribeNotify(handles.RX, l.inbound.handle); err != nil {
		l.failed(gen, fmt.Errorf("%w: subscribe: %v", ErrDiscoverFailed, err))
		return
	}
	l.ready(gen, handles)
}

// advance moves from one state to the next if the attempt is still current
func (l *Link) advance(gen uint64, from, to State, dev *transport.DeviceHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.state != from {
		return false
	}
	if dev != nil {
		l.device = *dev
	}
	l.setStateLocked(to, nil)
	return true
}

func (l *Link) ready(gen uint64, handles transport.ServiceHandles) {
	l.mu.Lock()
	if l.gen != gen || l.state != Discovering {
		l.mu.Unlock()
		_ = l.port.Disconnect()
		return
	}
	now := time.Now()
	l.attempts = 0
	l.lastConnect = now
	l.handles = handles
	l.live.resetLink()
	l.queue.SetReady(true, now.Add(l.opts.SettleDelay))
	if !l.opts.NoHeartbeat {
		l.heartbeat.Start(0)
	}
	l.setStateLocked(Ready, nil)
	hooks := append([]func(){}, l.onReady...)
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// failed handles a connect or discover failure: tear down and retry later
func (l *Link) failed(gen uint64, err error) {
	l.mu.Lock()
	if l.gen != gen || l.state == Destroyed || l.state == Idle {
		l.mu.Unlock()
		return
	}
	l.gen++
	if l.cancel != nil {
		l.cancel()
	}
	l.scheduleRetryLocked(err)
	l.mu.Unlock()
	_ = l.port.Disconnect()
}

// linkLost is the transport reporting a disconnect the host did not ask for
func (l *Link) linkLost(err error) {
	if err == nil {
		err = errors.New("link lost")
	}
	l.mu.Lock()
	switch l.state {
	case Connecting, Discovering, Ready:
	default:
		l.mu.Unlock()
		return
	}
	l.gen++
	if l.cancel != nil {
		l.cancel()
	}
	l.queue.Flush()
	l.queue.SetReady(false, time.Time{})
	l.heartbeat.Stop()
	l.scheduleRetryLocked(err)
	l.mu.Unlock()
}

// stale is the heartbeat giving up on the peer
func (l *Link) stale(missed int) {
	l.bus.Publish(EventLinkStale, LinkStale{Missed: missed})
	l.mu.Lock()
	active := l.state == Ready
	l.mu.Unlock()
	if !active {
		return
	}
	l.linkLost(fmt.Errorf("%w: %d liveness probes unanswered", ErrLinkStale, missed))
	_ = l.port.Disconnect()
}

func (l *Link) scheduleRetryLocked(err error) {
	delay := Backoff(l.attempts, l.opts.ReconnectBase, l.opts.ReconnectMax)
	l.attempts++
	l.setStateLocked(Disconnected, err)
	logger.Info(l.prefix, "reconnect attempt %d in %v", l.attempts, delay)

	gen := l.gen
	if l.retry != nil {
		l.retry.Stop()
	}
	l.retry = time.AfterFunc(delay, func() { l.reconnect(gen) })
}

func (l *Link) reconnect(gen uint64) {
	l.mu.Lock()
	current := l.gen == gen && l.state == Disconnected
	l.mu.Unlock()
	if !current {
		return
	}
	if err := l.attempt(); err != nil {
		logger.Error(l.prefix, "reconnect: %v", err)
	}
}

// teardownLocked stops everything tied to the current connection
func (l *Link) teardownLocked() {
	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
	l.queue.Flush()
	l.queue.SetReady(false, time.Time{})
	l.heartbeat.Stop()
}

// Disconnect closes the link and returns to Idle. No reconnect follows.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.state == Destroyed {
		l.mu.Unlock()
		return ErrDestroyed
	}
	l.teardownLocked()
	l.setStateLocked(Idle, nil)
	l.mu.Unlock()
	return l.port.Disconnect()
}

// Destroy tears the link down for good. It is safe to call concurrently
// with an in-flight send and more than once.
func (l *Link) Destroy() {
	l.mu.Lock()
	if l.state == Destroyed {
		l.mu.Unlock()
		return
	}
	l.teardownLocked()
	l.queue.Close()
	l.inbound.close()
	l.setStateLocked(Destroyed, nil)
	l.mu.Unlock()

	if err := l.port.Disconnect(); err != nil {
		logger.Debug(l.prefix, "disconnect on destroy: %v", err)
	}
}
