package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Inbound is a decoded frame received from the glasses
type Inbound interface {
	EventName() string
}

// Ack is implemented by inbound frames that answer an outbound command
type Ack interface {
	Inbound
	AckOpcode() byte
	AckOK() bool
}

// BatteryLevel reports the glasses' own battery
type BatteryLevel struct {
	Percent  int
	Charging *bool // only reported by protobuf firmware
	Source   byte  // OpBattery or OpProtobuf
}

func (BatteryLevel) EventName() string { return "battery" }
func (BatteryLevel) AckOK() bool       { return true }

// AckOpcode answers the battery query, or for protobuf firmware the
// envelope that carried the battery request.
func (b BatteryLevel) AckOpcode() byte {
	if b.Source == OpProtobuf {
		return OpProtobuf
	}
	return OpBattery
}

// HeartbeatAck answers a heartbeat
type HeartbeatAck struct {
	Seq byte
}

func (HeartbeatAck) EventName() string { return "heartbeat_ack" }
func (HeartbeatAck) AckOpcode() byte   { return OpHeartbeat }
func (HeartbeatAck) AckOK() bool       { return true }

// CommandAck is the generic [opcode][status] response
type CommandAck struct {
	Opcode byte
	OK     bool
	Raw    []byte
}

func (a CommandAck) EventName() string { return "ack " + OpcodeName(a.Opcode) }
func (a CommandAck) AckOpcode() byte   { return a.Opcode }
func (a CommandAck) AckOK() bool       { return a.OK }

// CaseEventKind identifies a charging case report
type CaseEventKind int

const (
	CaseRemoved CaseEventKind = iota
	CaseOpened
	CaseClosed
	CaseCharging
	CaseBattery
)

var caseEventNames = map[CaseEventKind]string{
	CaseRemoved:  "case_removed",
	CaseOpened:   "case_open",
	CaseClosed:   "case_closed",
	CaseCharging: "case_charging",
	CaseBattery:  "case_battery",
}

func (k CaseEventKind) String() string {
	return caseEventNames[k]
}

// CaseEvent reports a change in the charging case. Value carries the
// charging flag (0/1) or battery percentage where relevant.
type CaseEvent struct {
	Kind  CaseEventKind
	Value int
}

func (e CaseEvent) EventName() string { return e.Kind.String() }

// GestureKind identifies a head gesture
type GestureKind int

const (
	HeadUp GestureKind = iota
	HeadDown
)

func (g GestureKind) String() string {
	if g == HeadUp {
		return "head_up"
	}
	return "head_down"
}

// Gesture reports a head movement
type Gesture struct {
	Kind GestureKind
}

func (g Gesture) EventName() string { return g.Kind.String() }

// AudioFrame carries one compressed microphone frame
type AudioFrame struct {
	Seq  byte
	Data []byte
}

func (AudioFrame) EventName() string { return "audio" }

// JSONMessage is a 0x01-prefixed JSON document from the glasses
type JSONMessage struct {
	Data []byte
}

func (JSONMessage) EventName() string { return "json" }

// ProtoMessage is a protobuf envelope that carries nothing the link layer
// acts on
type ProtoMessage struct {
	Message proto.Message
}

func (ProtoMessage) EventName() string { return "protobuf" }

// Unknown is a frame whose lead byte has no decode rule
type Unknown struct {
	Raw []byte
}

func (Unknown) EventName() string { return "unknown" }

// Malformed is a frame whose lead byte is known but whose body is not
type Malformed struct {
	Raw    []byte
	Reason string
}

func (Malformed) EventName() string { return "malformed" }

// Decode rules are keyed by lead byte and, optionally, the second byte.
// A (lead, sub) rule wins over a lead-only rule.
type ruleKey struct {
	lead   byte
	sub    byte
	hasSub bool
}

type rule struct {
	minLen int
	decode func(frame []byte) Inbound
}

var decodeRules = map[ruleKey]rule{}

func on(lead byte, minLen int, fn func([]byte) Inbound) {
	decodeRules[ruleKey{lead: lead}] = rule{minLen: minLen, decode: fn}
}

func onSub(lead, sub byte, minLen int, fn func([]byte) Inbound) {
	decodeRules[ruleKey{lead: lead, sub: sub, hasSub: true}] = rule{minLen: minLen, decode: fn}
}

func statusAck(frame []byte) Inbound {
	return CommandAck{Opcode: frame[0], OK: frame[1] == StatusOK, Raw: frame}
}

func caseEvent(kind CaseEventKind, withValue bool) func([]byte) Inbound {
	return func(frame []byte) Inbound {
		ev := CaseEvent{Kind: kind}
		if withValue {
			ev.Value = int(frame[2])
		}
		return ev
	}
}

func init() {
	for _, op := range []byte{
		OpWhitelist, OpHeadUpAngle, OpMic, OpBitmapBlock, OpExit,
		OpBitmapEnd, OpDashboardPos, OpNotification, OpText, OpBattery,
	} {
		on(op, 2, statusAck)
	}

	// 0x01 doubles as the brightness ack and the JSON message lead
	onSub(OpBrightness, StatusOK, 2, statusAck)
	onSub(OpBrightness, StatusFail, 2, statusAck)
	on(OpBrightness, 1, func(frame []byte) Inbound {
		return JSONMessage{Data: frame[1:]}
	})

	// The CRC response echoes the checksum before the status byte
	on(OpBitmapCRC, 2, func(frame []byte) Inbound {
		status := frame[1]
		if len(frame) >= 6 {
			status = frame[5]
		}
		return CommandAck{Opcode: OpBitmapCRC, OK: status == StatusOK, Raw: frame}
	})

	on(OpHeartbeat, 1, func(frame []byte) Inbound {
		ack := HeartbeatAck{}
		if len(frame) > 2 {
			ack.Seq = frame[2]
		}
		return ack
	})

	onSub(OpBattery, BatteryReport, 3, func(frame []byte) Inbound {
		return BatteryLevel{Percent: int(frame[2]), Source: OpBattery}
	})

	onSub(OpDeviceEvent, EventHeadUp, 2, func([]byte) Inbound { return Gesture{Kind: HeadUp} })
	onSub(OpDeviceEvent, EventHeadDown, 2, func([]byte) Inbound { return Gesture{Kind: HeadDown} })
	onSub(OpDeviceEvent, EventCaseRemoved, 2, caseEvent(CaseRemoved, false))
	onSub(OpDeviceEvent, EventCaseRemovedAlt, 2, caseEvent(CaseRemoved, false))
	onSub(OpDeviceEvent, EventCaseOpen, 2, caseEvent(CaseOpened, false))
	onSub(OpDeviceEvent, EventCaseClosed, 2, caseEvent(CaseClosed, false))
	onSub(OpDeviceEvent, EventCaseCharging, 3, caseEvent(CaseCharging, true))
	onSub(OpDeviceEvent, EventCaseBattery, 3, caseEvent(CaseBattery, true))

	on(OpAudio, 2, func(frame []byte) Inbound {
		return AudioFrame{Seq: frame[1], Data: frame[2:]}
	})

	on(OpProtobuf, 1, func(frame []byte) Inbound {
		msg, battery, err := decodeNexReport(frame[1:])
		if err != nil {
			return Malformed{Raw: frame, Reason: fmt.Sprintf("protobuf: %v", err)}
		}
		if battery != nil {
			return *battery
		}
		return ProtoMessage{Message: msg}
	})
}

// Decode turns one inbound frame into a typed event. It never fails:
// frames without a rule decode to Unknown, short frames to Malformed.
func Decode(frame []byte) Inbound {
	if len(frame) == 0 {
		return Malformed{Raw: frame, Reason: "empty frame"}
	}
	r, ok := lookupRule(frame)
	if !ok {
		return Unknown{Raw: frame}
	}
	if len(frame) < r.minLen {
		return Malformed{
			Raw:    frame,
			Reason: fmt.Sprintf("%s frame needs %d bytes, got %d", OpcodeName(frame[0]), r.minLen, len(frame)),
		}
	}
	return r.decode(frame)
}

func lookupRule(frame []byte) (rule, bool) {
	if len(frame) > 1 {
		if r, ok := decodeRules[ruleKey{lead: frame[0], sub: frame[1], hasSub: true}]; ok {
			return r, true
		}
	}
	r, ok := decodeRules[ruleKey{lead: frame[0]}]
	return r, ok
}
