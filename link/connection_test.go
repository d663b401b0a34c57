package link

import (
	"errors"
	"testing"
	"time"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/transport"
	"github.com/user/glasslink/transport/sim"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.SettleDelay = 0
	opts.ReconnectBase = 10 * time.Millisecond
	opts.ReconnectMax = 40 * time.Millisecond
	opts.Queue = QueueOptions{AckTimeout: 200 * time.Millisecond, ChunkGap: time.Millisecond}
	opts.NoHeartbeat = true
	return opts
}

var g1 = transport.Selector{NamePrefix: "Even G1"}

func waitState(t *testing.T, l *Link, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return l.State() == want })
}

func waitEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("Timeout waiting for %s event", typ)
		}
	}
}

func readyLink(t *testing.T, opts Options) (*Link, *sim.Glasses) {
	t.Helper()
	peer := sim.New(sim.PerfectConfig())
	l := New(peer, opts)
	t.Cleanup(l.Destroy)
	if err := l.Connect(g1); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitState(t, l, Ready)
	return l, peer
}

func TestLink_ConnectReachesReady(t *testing.T) {
	peer := sim.New(sim.PerfectConfig())
	l := New(peer, testOptions())
	defer l.Destroy()
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	if err := l.Connect(g1); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var seen []State
	for len(seen) == 0 || seen[len(seen)-1] != Ready {
		ev := waitEvent(t, events, EventConnectionState)
		seen = append(seen, ev.Data.(ConnectionStateChanged).To)
	}
	want := []State{Scanning, Connecting, Discovering, Ready}
	if len(seen) != len(want) {
		t.Fatalf("States %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("States %v, want %v", seen, want)
		}
	}

	info := l.Info()
	if info.Device.Address != peer.Device().Address || info.LastConnect.IsZero() || info.Attempts != 0 {
		t.Errorf("Unexpected info %+v", info)
	}
}

func TestLink_ThreeTextChunksDrain(t *testing.T) {
	l, peer := readyLink(t, testOptions())

	frames, err := codec.NewEncoder(40).Encode(codec.KindText, 7, []byte("     a somewhat longer card that certainly needs three chunks of text\n"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(frames))
	}
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	for _, f := range frames {
		if err := l.Enqueue(OutboundItem{Payload: f}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if ev := waitEvent(t, events, EventTextDelivered); !ev.Data.(TextDelivered).OK {
			t.Errorf("Chunk %d rejected", i)
		}
	}

	waitFor(t, "queue drain", func() bool { return l.Queue().Len() == 0 && !l.Queue().Pending() })
	if got := peer.Snapshot().Texts; len(got) != 1 {
		t.Errorf("Peer reassembled %d texts", len(got))
	}
}

func TestLink_DisconnectMidSendFlushes(t *testing.T) {
	l, peer := readyLink(t, testOptions())
	peer.SetAutoAck(false)

	for i := 0; i < 5; i++ {
		if err := l.Enqueue(OutboundItem{Payload: []byte{codec.OpText, byte(i)}}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	waitFor(t, "in-flight write", l.Queue().Pending)

	peer.DropLink(errors.New("out of range"))

	if s := l.State(); s != Disconnected {
		t.Fatalf("State = %s", s)
	}
	if l.Queue().Len() != 0 || l.Queue().Pending() {
		t.Fatalf("After disconnect: len=%d pending=%v", l.Queue().Len(), l.Queue().Pending())
	}
}

func TestLink_ReconnectsAfterLinkLoss(t *testing.T) {
	l, peer := readyLink(t, testOptions())
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	peer.DropLink(nil)
	ev := waitEvent(t, events, EventConnectionState)
	if change := ev.Data.(ConnectionStateChanged); change.To != Disconnected || change.Error == "" {
		t.Fatalf("Unexpected change %+v", change)
	}
	waitState(t, l, Ready)
	if calls := peer.Snapshot().ConnectCalls; calls != 2 {
		t.Errorf("ConnectCalls = %d", calls)
	}
}

func TestLink_ConnectFailuresBackOff(t *testing.T) {
	peer := sim.New(sim.PerfectConfig())
	peer.FailNextConnects(2)
	l := New(peer, testOptions())
	defer l.Destroy()

	start := time.Now()
	if err := l.Connect(g1); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitState(t, l, Ready)

	// 10ms then 20ms of backoff
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Ready after %v, expected backoff of at least 30ms", elapsed)
	}
	if calls := peer.Snapshot().ConnectCalls; calls != 3 {
		t.Errorf("ConnectCalls = %d", calls)
	}
	if l.Info().Attempts != 0 {
		t.Errorf("Attempts not reset on ready")
	}
}

func TestLink_DiscoverFailureRetries(t *testing.T) {
	cfg := sim.PerfectConfig()
	cfg.NoUARTService = true
	peer := sim.New(cfg)
	l := New(peer, testOptions())
	defer l.Destroy()
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	if err := l.Connect(g1); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	for {
		ev := waitEvent(t, events, EventConnectionState)
		change := ev.Data.(ConnectionStateChanged)
		if change.To == Disconnected {
			if change.Error == "" {
				t.Error("Expected discover error")
			}
			break
		}
	}
	waitFor(t, "retry", func() bool { return peer.Snapshot().ConnectCalls >= 2 })
}

func TestLink_TransportUnavailable(t *testing.T) {
	cfg := sim.PerfectConfig()
	cfg.Unavailable = true
	l := New(sim.New(cfg), testOptions())
	defer l.Destroy()

	err := l.Connect(g1)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Expected ErrTransportUnavailable, got %v", err)
	}
	if s := l.State(); s != Idle {
		t.Errorf("State = %s", s)
	}
}

func TestLink_HostDisconnectStaysIdle(t *testing.T) {
	l, peer := readyLink(t, testOptions())
	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if l.State() != Idle {
		t.Fatalf("State = %s", l.State())
	}
	time.Sleep(50 * time.Millisecond)
	if l.State() != Idle || peer.Connected() {
		t.Errorf("Link reconnected after host disconnect")
	}
}

func TestLink_DestroyIsTerminal(t *testing.T) {
	l, peer := readyLink(t, testOptions())
	peer.SetAutoAck(false)
	opts := l.opts.Queue
	if err := l.Enqueue(OutboundItem{Payload: codec.Exit()}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, "in-flight write", l.Queue().Pending)

	l.Destroy()
	l.Destroy()
	select {
	case <-l.Queue().exited:
	case <-time.After(opts.AckTimeout):
		t.Fatal("Worker still running after Destroy")
	}
	if l.State() != Destroyed {
		t.Fatalf("State = %s", l.State())
	}
	if err := l.Connect(g1); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Connect after destroy: %v", err)
	}
	if err := l.Enqueue(OutboundItem{Payload: codec.Exit()}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Enqueue after destroy: %v", err)
	}
	if peer.Connected() {
		t.Error("Transport left open")
	}
}

func TestLink_StaleHeartbeatReconnects(t *testing.T) {
	opts := testOptions()
	opts.NoHeartbeat = false
	opts.Heartbeat = HeartbeatOptions{Interval: 10 * time.Millisecond, MaxMissed: 2}
	opts.Queue.AckTimeout = 5 * time.Millisecond
	l, peer := readyLink(t, opts)
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	peer.SetSilent(codec.OpHeartbeat, true)
	ev := waitEvent(t, events, EventLinkStale)
	if ev.Data.(LinkStale).Missed != 2 {
		t.Errorf("Unexpected %+v", ev.Data)
	}
	peer.SetSilent(codec.OpHeartbeat, false)
	waitState(t, l, Ready)
	waitFor(t, "reconnect", func() bool { return peer.Snapshot().ConnectCalls >= 2 })
}

func TestLink_NexPingsKeepLinkAlive(t *testing.T) {
	opts := testOptions()
	opts.NoHeartbeat = false
	opts.Heartbeat = HeartbeatOptions{
		Interval:     10 * time.Millisecond,
		BatteryEvery: 5,
		MaxMissed:    3,
		Flavour:      FlavourNex,
	}
	opts.Queue.AckTimeout = 40 * time.Millisecond
	l, peer := readyLink(t, opts)
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	deadline := time.After(400 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventSendFailed, EventLinkStale:
				t.Fatalf("Healthy Nex peer produced %s: %+v (live %+v)", ev.Type, ev.Data, l.Live())
			}
		case <-deadline:
			done = true
		}
	}
	if l.State() != Ready || peer.Snapshot().ConnectCalls != 1 {
		t.Fatalf("Link did not stay up: %s, %d connects", l.State(), peer.Snapshot().ConnectCalls)
	}
	if peer.Snapshot().Pings < 10 || l.Live().Battery == -1 {
		t.Errorf("Pings %d, battery %d", peer.Snapshot().Pings, l.Live().Battery)
	}

	peer.SetSilent(codec.OpProtobuf, true)
	if ev := waitEvent(t, events, EventLinkStale); ev.Data.(LinkStale).Missed != 3 {
		t.Errorf("Unexpected %+v", ev.Data)
	}
}

func TestLink_InboundEvents(t *testing.T) {
	l, peer := readyLink(t, testOptions())
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	peer.Inject([]byte{codec.OpBattery, codec.BatteryReport, 64})
	if ev := waitEvent(t, events, EventBattery); ev.Data.(BatteryUpdated).Percent != 64 {
		t.Errorf("Unexpected battery %+v", ev.Data)
	}
	if l.Live().Battery != 64 {
		t.Errorf("Live battery = %d", l.Live().Battery)
	}

	peer.Inject([]byte{codec.OpDeviceEvent, codec.EventCaseBattery, 55})
	peer.Inject([]byte{codec.OpDeviceEvent, codec.EventCaseOpen})
	waitEvent(t, events, EventCase)
	ev := waitEvent(t, events, EventCase)
	if c := ev.Data.(CaseUpdated).Case; c.Battery != 55 || !c.Open {
		t.Errorf("Unexpected case %+v", c)
	}

	peer.Inject([]byte{codec.OpDeviceEvent, codec.EventHeadUp})
	if ev := waitEvent(t, events, EventGesture); ev.Data.(GestureDetected).Gesture != "head_up" {
		t.Errorf("Unexpected gesture %+v", ev.Data)
	}

	peer.Inject([]byte{0x99, 0x01})
	if ev := waitEvent(t, events, EventUnknownFrame); len(ev.Data.(UnknownFrame).Raw) != 2 {
		t.Errorf("Unexpected unknown frame %+v", ev.Data)
	}

	// Malformed frames are absorbed
	peer.Inject([]byte{codec.OpDeviceEvent, codec.EventCaseBattery})
	peer.Inject([]byte{codec.OpBitmapCRC, 0, 0, 0, 0, codec.StatusFail})
	waitEvent(t, events, EventChecksumRejected)
}

func TestLink_AudioFramesDecoded(t *testing.T) {
	opts := testOptions()
	opts.AudioDecoder = func(frame []byte) ([]int16, error) {
		pcm := make([]int16, len(frame))
		for i, b := range frame {
			pcm[i] = int16(b)
		}
		return pcm, nil
	}
	l, peer := readyLink(t, opts)
	events, unsub := l.Bus().Subscribe()
	defer unsub()

	peer.Inject([]byte{codec.OpAudio, 3, 10, 20, 30})
	ev := waitEvent(t, events, EventAudio)
	frame := ev.Data.(AudioFrameDecoded)
	if frame.Seq != 3 || len(frame.PCM) != 3 || frame.PCM[2] != 30 {
		t.Errorf("Unexpected audio %+v", frame)
	}
}
