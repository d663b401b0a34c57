package bluez

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"tinygo.org/x/bluetooth"
)

var _ commandWriter = bluetooth.DeviceCharacteristic{}

type fakeWriter struct {
	got   [][]byte
	short int
	err   error
}

func (f *fakeWriter) WriteWithoutResponse(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.got = append(f.got, append([]byte{}, p...))
	if f.short > 0 {
		return f.short, nil
	}
	return len(p), nil
}

func TestWriteCommand(t *testing.T) {
	w := &fakeWriter{}
	frame := []byte{0x25, 0x06, 0x00, 0x01, 0x04, 0x01}
	if err := writeCommand(w, frame); err != nil {
		t.Fatalf("writeCommand failed: %v", err)
	}
	if len(w.got) != 1 || !bytes.Equal(w.got[0], frame) {
		t.Errorf("Wrote %v", w.got)
	}
}

func TestWriteCommand_Errors(t *testing.T) {
	radio := errors.New("not connected")
	if err := writeCommand(&fakeWriter{err: radio}, []byte{0x4F}); !errors.Is(err, radio) {
		t.Errorf("Expected wrapped radio error, got %v", err)
	}
	if err := writeCommand(&fakeWriter{short: 1}, []byte{0x01, 0x3F, 0x01}); !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("Expected short write, got %v", err)
	}
}
