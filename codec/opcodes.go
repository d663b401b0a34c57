package codec

// Outbound command opcodes (first byte of every frame written to the glasses)
const (
	OpBrightness   = 0x01
	OpProtobuf     = 0x02 // Protobuf envelope (Nex firmware)
	OpWhitelist    = 0x04
	OpHeadUpAngle  = 0x0B
	OpMic          = 0x0E
	OpBitmapBlock  = 0x15
	OpBitmapCRC    = 0x16
	OpExit         = 0x18
	OpBitmapEnd    = 0x20
	OpHeartbeat    = 0x25
	OpDashboardPos = 0x26
	OpBattery      = 0x2C
	OpNotification = 0x4B
	OpText         = 0x4E
)

// Inbound-only leads
const (
	OpAudio       = 0xA0
	OpDeviceEvent = 0xF5
)

// Status bytes carried by command acknowledgements
const (
	StatusOK   = 0xC9
	StatusFail = 0xCA
)

// Sub-codes following OpDeviceEvent
const (
	EventHeadUp         = 0x02
	EventHeadDown       = 0x03
	EventCaseRemoved    = 0x06
	EventCaseRemovedAlt = 0x07
	EventCaseOpen       = 0x08
	EventCaseClosed     = 0x0B
	EventCaseCharging   = 0x0E
	EventCaseBattery    = 0x0F
)

// BatteryReport is the sub-code of a battery query response (2C 66 level)
const BatteryReport = 0x66

// TextScreenStatus is new content (0x01) combined with text show (0x70)
const TextScreenStatus = 0x71

// OpcodeNames maps opcodes to human-readable names
var OpcodeNames = map[byte]string{
	OpBrightness:   "Brightness",
	OpProtobuf:     "Protobuf Envelope",
	OpWhitelist:    "Whitelist",
	OpHeadUpAngle:  "Head-Up Angle",
	OpMic:          "Mic",
	OpBitmapBlock:  "Bitmap Block",
	OpBitmapCRC:    "Bitmap CRC",
	OpExit:         "Exit",
	OpBitmapEnd:    "Bitmap End",
	OpHeartbeat:    "Heartbeat",
	OpDashboardPos: "Dashboard Position",
	OpBattery:      "Battery",
	OpNotification: "Notification",
	OpText:         "Text",
	OpAudio:        "Audio",
	OpDeviceEvent:  "Device Event",
}

// OpcodeName returns the name of an opcode, or a hex rendering for unknown ones
func OpcodeName(op byte) string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	return hexByte(op)
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return "0x" + string([]byte{digits[b>>4], digits[b&0x0F]})
}
