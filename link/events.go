package link

import (
	"sync"
	"time"
)

// EventType classifies an event raised to the host
type EventType string

const (
	EventConnectionState  EventType = "connection_state"
	EventBattery          EventType = "battery"
	EventCase             EventType = "case"
	EventGesture          EventType = "gesture"
	EventAudio            EventType = "audio"
	EventUnknownFrame     EventType = "unknown_frame"
	EventTextDelivered    EventType = "text_delivered"
	EventSendFailed       EventType = "send_failed"
	EventChecksumRejected EventType = "checksum_rejected"
	EventLinkStale        EventType = "link_stale"
)

// Event is the JSON-serialisable envelope delivered to subscribers
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ConnectionStateChanged is published on every state transition
type ConnectionStateChanged struct {
	From    State  `json:"from"`
	To      State  `json:"to"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatteryUpdated carries the glasses' own battery level
type BatteryUpdated struct {
	Percent  int   `json:"percent"`
	Charging *bool `json:"charging,omitempty"`
}

// CaseUpdated carries the charging case state after a case report
type CaseUpdated struct {
	Change string    `json:"change"`
	Case   CaseState `json:"case"`
}

// GestureDetected carries a head gesture
type GestureDetected struct {
	Gesture string `json:"gesture"`
}

// AudioFrameDecoded carries one microphone frame. PCM is nil when no
// decoder is configured.
type AudioFrameDecoded struct {
	Seq        byte    `json:"seq"`
	Compressed []byte  `json:"compressed"`
	PCM        []int16 `json:"pcm,omitempty"`
}

// UnknownFrame carries a frame with no decode rule
type UnknownFrame struct {
	Raw []byte `json:"raw"`
}

// TextDelivered reports the peer's verdict on a text chunk
type TextDelivered struct {
	OK bool `json:"ok"`
}

// SendFailed reports an outbound item that was written but not
// acknowledged, or not written at all
type SendFailed struct {
	Label  string `json:"label"`
	Opcode string `json:"opcode"`
	Error  string `json:"error"`
}

// ChecksumRejected reports a bitmap the peer refused
type ChecksumRejected struct {
	Error string `json:"error"`
}

// LinkStale reports the heartbeat giving up on the peer
type LinkStale struct {
	Missed int `json:"missed"`
}

type subscriber struct {
	ch chan Event
}

// Bus fans link events out to every subscriber. Slow subscribers lose
// events rather than stall the transport.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a buffered event channel and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *Bus) Publish(t EventType, data interface{}) {
	b.publish(Event{Type: t, Timestamp: time.Now().UTC(), Data: data})
}

func (b *Bus) publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Len returns the subscriber count
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
