package codec

// Fixed-layout command builders. Inputs outside the accepted range are
// clamped rather than rejected.

// Heartbeat builds the 6-byte keepalive: 25 06 seq 00 04 seq
func Heartbeat(seq byte) []byte {
	return []byte{OpHeartbeat, 0x06, seq, 0x00, 0x04, seq}
}

// BatteryQuery asks the glasses for their battery level
func BatteryQuery() []byte {
	return []byte{OpBattery, 0x01}
}

// Brightness maps a 0-100 percentage onto the display's 0-63 scale
func Brightness(percent int, auto bool) []byte {
	percent = clamp(percent, 0, 100)
	return []byte{OpBrightness, byte(percent * 63 / 100), boolByte(auto)}
}

// HeadUpAngle sets the tilt in degrees (0-60) that wakes the display
func HeadUpAngle(degrees int) []byte {
	return []byte{OpHeadUpAngle, byte(clamp(degrees, 0, 60)), 0x01}
}

// DashboardPosition places the dashboard at height 0-8 and depth 1-9.
// counter distinguishes consecutive sends.
func DashboardPosition(counter byte, height, depth int) []byte {
	return []byte{
		OpDashboardPos, 0x08, 0x00, counter, 0x02, 0x01,
		byte(clamp(height, 0, 8)),
		byte(clamp(depth, 1, 9)),
	}
}

// Mic enables or disables the microphone stream
func Mic(enabled bool) []byte {
	return []byte{OpMic, boolByte(enabled)}
}

// Exit returns the glasses to their home screen, clearing any text
func Exit() []byte {
	return []byte{OpExit}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
