package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncode_FramesNeverExceedMaxWrite(t *testing.T) {
	tests := []struct {
		name     string
		maxWrite int
		kind     Kind
		size     int
	}{
		{name: "text single chunk", maxWrite: 180, kind: KindText, size: 100},
		{name: "text exact capacity", maxWrite: 180, kind: KindText, size: 171},
		{name: "text one over capacity", maxWrite: 180, kind: KindText, size: 172},
		{name: "notification multi chunk", maxWrite: 180, kind: KindNotification, size: 1000},
		{name: "whitelist small mtu", maxWrite: 23, kind: KindWhitelist, size: 300},
		{name: "empty text", maxWrite: 180, kind: KindText, size: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder(tt.maxWrite)
			payload := bytes.Repeat([]byte{'x'}, tt.size)
			frames, err := enc.Encode(tt.kind, 7, payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			capacity := tt.maxWrite - HeaderLen(tt.kind)
			wantChunks := (tt.size + capacity - 1) / capacity
			if wantChunks == 0 {
				wantChunks = 1
			}
			if len(frames) != wantChunks {
				t.Fatalf("Expected %d frames, got %d", wantChunks, len(frames))
			}
			for i, f := range frames {
				if len(f) > tt.maxWrite {
					t.Errorf("Frame %d is %d bytes, exceeds max write %d", i, len(f), tt.maxWrite)
				}
				if f[0] != byte(tt.kind) || f[1] != 7 || int(f[2]) != len(frames) || int(f[3]) != i {
					t.Errorf("Frame %d header = % X", i, f[:4])
				}
			}
		})
	}
}

func TestEncodeText_Header(t *testing.T) {
	enc := NewEncoder(180)
	frames, err := enc.EncodeText(3, 0, 1, []byte("     hello\n"))
	if err != nil {
		t.Fatalf("EncodeText failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	want := []byte{0x4E, 0x03, 0x01, 0x00, 0x71, 0x00, 0x00, 0x00, 0x01}
	if !bytes.Equal(frames[0][:9], want) {
		t.Errorf("Header = % X, want % X", frames[0][:9], want)
	}
	if string(frames[0][9:]) != "     hello\n" {
		t.Errorf("Payload = %q", frames[0][9:])
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	enc := NewEncoder(20)
	capacity := enc.ChunkCapacity(KindNotification)

	if _, err := enc.Encode(KindNotification, 0, make([]byte, capacity*MaxChunks)); err != nil {
		t.Fatalf("255 chunks should encode, got %v", err)
	}
	_, err := enc.Encode(KindNotification, 0, make([]byte, capacity*MaxChunks+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncode_UnsupportedKind(t *testing.T) {
	enc := NewEncoder(180)
	if _, err := enc.Encode(Kind(OpMic), 0, []byte{1}); err == nil {
		t.Fatal("Expected error for non-chunked kind")
	}
}

func TestChunkRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20))

	for _, kind := range []Kind{KindText, KindNotification, KindWhitelist} {
		t.Run(kind.String(), func(t *testing.T) {
			enc := NewEncoder(60)
			frames, err := enc.Encode(kind, 42, payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			r := NewReassembler()
			var got []byte
			for i, f := range frames {
				c, err := ParseChunk(f)
				if err != nil {
					t.Fatalf("ParseChunk frame %d: %v", i, err)
				}
				out, done, err := r.Add(c)
				if err != nil {
					t.Fatalf("Add frame %d: %v", i, err)
				}
				if done != (i == len(frames)-1) {
					t.Fatalf("Frame %d: done=%v", i, done)
				}
				got = out
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("Round trip mismatch: got %d bytes, want %d", len(got), len(payload))
			}
			if r.Pending() != 0 {
				t.Errorf("Expected no pending payloads, got %d", r.Pending())
			}
		})
	}
}

func TestReassembler_OutOfOrder(t *testing.T) {
	enc := NewEncoder(30)
	payload := []byte(strings.Repeat("abcdefghij", 10))
	frames, err := enc.Encode(KindNotification, 1, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	r := NewReassembler()
	var got []byte
	for i := len(frames) - 1; i >= 0; i-- {
		c, err := ParseChunk(frames[i])
		if err != nil {
			t.Fatalf("ParseChunk: %v", err)
		}
		out, done, err := r.Add(c)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if done {
			got = out
		}
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Reassembled %q", got)
	}
}

func TestParseChunk_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "too short", frame: []byte{0x4E, 0x00}},
		{name: "text header truncated", frame: []byte{0x4E, 0x00, 0x01, 0x00, 0x71}},
		{name: "not chunked", frame: []byte{0x25, 0x06, 0x00, 0x00}},
		{name: "index past total", frame: []byte{0x4B, 0x00, 0x02, 0x02}},
		{name: "zero total", frame: []byte{0x4B, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseChunk(tt.frame); !errors.Is(err, ErrMalformedChunk) {
				t.Errorf("Expected ErrMalformedChunk, got %v", err)
			}
		})
	}
}

func TestSequence_Wraps(t *testing.T) {
	var s Sequence
	for i := 0; i < 256; i++ {
		if got := s.Next(); got != byte(i) {
			t.Fatalf("Next() = %d, want %d", got, i)
		}
	}
	if got := s.Next(); got != 0 {
		t.Errorf("Expected wrap to 0, got %d", got)
	}
	if got := s.Peek(); got != 1 {
		t.Errorf("Peek() = %d, want 1", got)
	}
	s.Reset()
	if got := s.Next(); got != 0 {
		t.Errorf("After Reset, Next() = %d", got)
	}
}
