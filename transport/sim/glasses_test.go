package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/transport"
)

func connectedPeer(t *testing.T) (*Glasses, chan []byte) {
	t.Helper()
	g := New(PerfectConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	devices, err := g.Scan(ctx, transport.Selector{NamePrefix: "Even G1"}.Match)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	dev, ok := <-devices
	if !ok {
		t.Fatal("Scan closed without a device")
	}
	if err := g.Connect(ctx, dev); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	handles, err := g.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if handles != transport.DefaultHandles() {
		t.Fatalf("Unexpected handles %+v", handles)
	}

	replies := make(chan []byte, 64)
	if err := g.SubscribeNotify(transport.UARTRX, func(b []byte) { replies <- b }); err != nil {
		t.Fatalf("SubscribeNotify failed: %v", err)
	}
	return g, replies
}

func waitReply(t *testing.T, replies chan []byte) []byte {
	t.Helper()
	select {
	case r := <-replies:
		return r
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for reply")
	}
	return nil
}

func TestGlasses_TextIsReassembledAndAcked(t *testing.T) {
	g, replies := connectedPeer(t)

	frames, err := codec.NewEncoder(40).Encode(codec.KindText, 0, []byte("     hello there, glasses\n     line two\n"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for _, f := range frames {
		if err := g.Write(transport.UARTTX, f); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		r := waitReply(t, replies)
		if ack, ok := codec.Decode(r).(codec.CommandAck); !ok || ack.Opcode != codec.OpText || !ack.OK {
			t.Fatalf("Unexpected reply % X", r)
		}
	}

	state := g.Snapshot()
	if len(state.Texts) != 1 || state.Texts[0] != "     hello there, glasses\n     line two\n" {
		t.Errorf("Texts = %q", state.Texts)
	}
}

func TestGlasses_BatteryAndHeartbeat(t *testing.T) {
	g, replies := connectedPeer(t)
	g.SetBattery(42)

	if err := g.Write(transport.UARTTX, codec.BatteryQuery()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if b, ok := codec.Decode(waitReply(t, replies)).(codec.BatteryLevel); !ok || b.Percent != 42 {
		t.Errorf("Expected battery 42")
	}

	if err := g.Write(transport.UARTTX, codec.Heartbeat(3)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if hb, ok := codec.Decode(waitReply(t, replies)).(codec.HeartbeatAck); !ok || hb.Seq != 3 {
		t.Errorf("Expected heartbeat ack seq 3")
	}
	if g.Snapshot().Heartbeats != 1 {
		t.Errorf("Heartbeats = %d", g.Snapshot().Heartbeats)
	}
}

func TestGlasses_NexPing(t *testing.T) {
	g, replies := connectedPeer(t)
	ping, err := codec.NexRequest(codec.NexPing)
	if err != nil {
		t.Fatalf("NexRequest failed: %v", err)
	}
	if err := g.Write(transport.UARTTX, ping); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case r := <-replies:
		t.Fatalf("Ping answered with % X", r)
	case <-time.After(50 * time.Millisecond):
	}
	if g.Snapshot().Pings != 1 {
		t.Errorf("Pings = %d", g.Snapshot().Pings)
	}

	query, err := codec.NexRequest(codec.NexBatteryState)
	if err != nil {
		t.Fatalf("NexRequest failed: %v", err)
	}
	if err := g.Write(transport.UARTTX, query); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	b, ok := codec.Decode(waitReply(t, replies)).(codec.BatteryLevel)
	if !ok || b.AckOpcode() != codec.OpProtobuf {
		t.Fatalf("Expected protobuf battery status, got %#v", b)
	}
}

func TestGlasses_BitmapCRC(t *testing.T) {
	g, replies := connectedPeer(t)
	image := make([]byte, 500)
	for i := range image {
		image[i] = byte(i * 7)
	}
	frames, err := codec.NewEncoder(180).EncodeBitmap(image)
	if err != nil {
		t.Fatalf("EncodeBitmap failed: %v", err)
	}

	send := func(all [][]byte) []byte {
		var last []byte
		for _, f := range all {
			if err := g.Write(transport.UARTTX, f); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			last = waitReply(t, replies)
		}
		return last
	}

	if ack, ok := codec.Decode(send(frames.All())).(codec.CommandAck); !ok || ack.Opcode != codec.OpBitmapCRC || !ack.OK {
		t.Fatal("Expected CRC success")
	}

	frames.CRC[1] ^= 0x01
	if ack, ok := codec.Decode(send(frames.All())).(codec.CommandAck); !ok || ack.OK {
		t.Fatal("Expected CRC rejection")
	}

	state := g.Snapshot()
	if len(state.Images) != 1 || state.CRCFailures != 1 {
		t.Errorf("Images=%d CRCFailures=%d", len(state.Images), state.CRCFailures)
	}
}

func TestGlasses_WriteLimits(t *testing.T) {
	g, _ := connectedPeer(t)
	if err := g.Write(transport.UARTTX, make([]byte, 181)); err == nil {
		t.Error("Expected error for oversized write")
	}
	if err := g.Write(transport.UARTRX, []byte{0x18}); err == nil {
		t.Error("Expected error for write to RX")
	}
	_ = g.Disconnect()
	if err := g.Write(transport.UARTTX, []byte{0x18}); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestGlasses_SilentOpcode(t *testing.T) {
	g, replies := connectedPeer(t)
	g.SetSilent(codec.OpMic, true)
	if err := g.Write(transport.UARTTX, codec.Mic(true)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case r := <-replies:
		t.Fatalf("Unexpected reply % X", r)
	case <-time.After(50 * time.Millisecond):
	}
	if !g.Snapshot().Mic {
		t.Error("Mic state should still be applied")
	}
}

func TestGlasses_DropLink(t *testing.T) {
	g, _ := connectedPeer(t)
	got := make(chan error, 1)
	g.OnDisconnect(func(err error) { got <- err })

	g.DropLink(errors.New("out of range"))

	select {
	case err := <-got:
		if err == nil || err.Error() != "out of range" {
			t.Errorf("Unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Disconnect callback not invoked")
	}
	if g.Connected() {
		t.Error("Peer should be disconnected")
	}
}

func TestGlasses_ScanUnavailable(t *testing.T) {
	cfg := PerfectConfig()
	cfg.Unavailable = true
	if _, err := New(cfg).Scan(context.Background(), nil); !errors.Is(err, transport.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestGlasses_ScanNoMatchWaitsForCancel(t *testing.T) {
	g := New(PerfectConfig())
	ctx, cancel := context.WithCancel(context.Background())
	devices, err := g.Scan(ctx, transport.Selector{NamePrefix: "Other"}.Match)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	select {
	case dev, ok := <-devices:
		t.Fatalf("Unexpected scan result %+v (open=%v)", dev, ok)
	case <-time.After(30 * time.Millisecond):
	}
	cancel()
	select {
	case _, ok := <-devices:
		if ok {
			t.Fatal("Expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Scan did not stop after cancel")
	}
}

func TestGlasses_FailNextConnects(t *testing.T) {
	g := New(PerfectConfig())
	g.FailNextConnects(2)
	dev := g.Device()
	for i := 0; i < 2; i++ {
		if err := g.Connect(context.Background(), dev); err == nil {
			t.Fatalf("Connect %d should fail", i)
		}
	}
	if err := g.Connect(context.Background(), dev); err != nil {
		t.Fatalf("Third connect failed: %v", err)
	}
	if g.Snapshot().ConnectCalls != 3 {
		t.Errorf("ConnectCalls = %d", g.Snapshot().ConnectCalls)
	}
}
