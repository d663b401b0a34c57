package link

import (
	"sync"
	"time"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/logger"
)

// AudioDecoder turns one compressed microphone frame into PCM samples
type AudioDecoder func(frame []byte) ([]int16, error)

// inbound routes decoded frames: acks release the queue, state reports
// update LiveState, everything else becomes a host event. It runs on the
// transport's callback goroutine and never blocks; audio decoding is
// handed to a bounded worker.
type inbound struct {
	prefix  string
	queue   *Queue
	live    *LiveState
	bus     *Bus
	decoder AudioDecoder

	audio    chan codec.AudioFrame
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	dropped int
}

func newInbound(prefix string, queue *Queue, live *LiveState, bus *Bus, decoder AudioDecoder, backlog int) *inbound {
	if backlog <= 0 {
		backlog = 32
	}
	in := &inbound{
		prefix:  prefix + " inbound",
		queue:   queue,
		live:    live,
		bus:     bus,
		decoder: decoder,
		audio:   make(chan codec.AudioFrame, backlog),
		stop:    make(chan struct{}),
	}
	go in.audioLoop()
	return in
}

func (in *inbound) close() {
	in.stopOnce.Do(func() { close(in.stop) })
}

// handle is the transport notification callback
func (in *inbound) handle(frame []byte) {
	logger.TraceFrame(in.prefix, "rx", frame)
	ev := codec.Decode(frame)

	if ack, ok := ev.(codec.Ack); ok {
		if !in.queue.Resolve(ack.AckOpcode(), ack.AckOK()) {
			logger.Trace(in.prefix, "unmatched %s", ev.EventName())
		}
	}

	switch e := ev.(type) {
	case codec.HeartbeatAck:
		in.live.heartbeatAcked(time.Now())

	case codec.BatteryLevel:
		if e.Source == codec.OpProtobuf {
			in.live.heartbeatAcked(time.Now())
		}
		in.live.setBattery(e)
		logger.Debug(in.prefix, "battery %d%%", e.Percent)
		in.bus.Publish(EventBattery, BatteryUpdated{Percent: e.Percent, Charging: e.Charging})

	case codec.CommandAck:
		in.commandAck(e)

	case codec.CaseEvent:
		state := in.live.applyCase(e)
		logger.Debug(in.prefix, "%s (value %d)", e.Kind, e.Value)
		in.bus.Publish(EventCase, CaseUpdated{Change: e.Kind.String(), Case: state})

	case codec.Gesture:
		logger.Debug(in.prefix, "gesture %s", e.Kind)
		in.bus.Publish(EventGesture, GestureDetected{Gesture: e.Kind.String()})

	case codec.AudioFrame:
		select {
		case in.audio <- e:
		default:
			in.mu.Lock()
			in.dropped++
			n := in.dropped
			in.mu.Unlock()
			if n%100 == 1 {
				logger.Warn(in.prefix, "audio backlog full, %d frames dropped", n)
			}
		}

	case codec.JSONMessage:
		logger.Debug(in.prefix, "json message: %s", e.Data)

	case codec.ProtoMessage:
		logger.Debug(in.prefix, "protobuf %s", e.Message.ProtoReflect().Descriptor().FullName())
		logger.TraceJSON(in.prefix, "protobuf message", e.Message)

	case codec.Unknown:
		logger.Debug(in.prefix, "unknown frame %s", logger.Hex(e.Raw))
		in.bus.Publish(EventUnknownFrame, UnknownFrame{Raw: e.Raw})

	case codec.Malformed:
		logger.Warn(in.prefix, "malformed frame (%s): %s", e.Reason, logger.Hex(e.Raw))
	}
}

func (in *inbound) commandAck(a codec.CommandAck) {
	switch a.Opcode {
	case codec.OpText:
		in.bus.Publish(EventTextDelivered, TextDelivered{OK: a.OK})
	case codec.OpBitmapCRC:
		if !a.OK {
			logger.Error(in.prefix, "bitmap rejected: %v", ErrChecksumRejected)
			in.bus.Publish(EventChecksumRejected, ChecksumRejected{Error: ErrChecksumRejected.Error()})
			return
		}
	}
	if !a.OK {
		logger.Warn(in.prefix, "%s nak", codec.OpcodeName(a.Opcode))
	}
}

func (in *inbound) audioLoop() {
	for {
		select {
		case <-in.stop:
			return
		case f := <-in.audio:
			out := AudioFrameDecoded{Seq: f.Seq, Compressed: f.Data}
			if in.decoder != nil {
				pcm, err := in.decoder(f.Data)
				if err != nil {
					logger.Warn(in.prefix, "audio frame %d: %v", f.Seq, err)
					continue
				}
				out.PCM = pcm
			}
			in.bus.Publish(EventAudio, out)
		}
	}
}
