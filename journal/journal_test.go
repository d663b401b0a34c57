package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/glasslink/link"
)

func TestJournal_LogAndRead(t *testing.T) {
	dir := t.TempDir()
	session := uuid.New()
	j := New(dir, session, true)

	want := filepath.Join(dir, session.String()[:8], FileName)
	if j.Path() != want {
		t.Fatalf("Path = %q, want %q", j.Path(), want)
	}

	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	j.Log(link.Event{Type: link.EventBattery, Timestamp: at, Data: link.BatteryUpdated{Percent: 80}})
	j.Log(link.Event{Type: link.EventGesture, Data: link.GestureDetected{Gesture: "head_up"}})

	entries, err := Read(j.Path())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Timestamp != at.UnixNano() || entries[0].Session != session.String() {
		t.Errorf("Entry 0 = %+v", entries[0])
	}
	var battery link.BatteryUpdated
	if err := json.Unmarshal(entries[0].Data, &battery); err != nil || battery.Percent != 80 {
		t.Errorf("Battery data %s (%v)", entries[0].Data, err)
	}
	if entries[1].Event != link.EventGesture || entries[1].Timestamp == 0 {
		t.Errorf("Entry 1 = %+v", entries[1])
	}
}

func TestJournal_AudioIsSummarised(t *testing.T) {
	j := New(t.TempDir(), uuid.New(), true)
	j.Log(link.Event{Type: link.EventAudio, Data: link.AudioFrameDecoded{
		Seq:        7,
		Compressed: make([]byte, 200),
		PCM:        make([]int16, 320),
	}})

	entries, err := Read(j.Path())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := string(entries[0].Data); got != `{"seq":7,"bytes":200,"samples":320}` {
		t.Errorf("Audio data %s", got)
	}
}

func TestJournal_Disabled(t *testing.T) {
	dir := t.TempDir()
	j := New(dir, uuid.New(), false)
	j.Log(link.Event{Type: link.EventBattery, Data: link.BatteryUpdated{Percent: 1}})

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(files) != 0 || j.Path() != "" {
		t.Errorf("Disabled journal wrote %d files", len(files))
	}
}

func TestJournal_Attach(t *testing.T) {
	j := New(t.TempDir(), uuid.New(), true)
	bus := link.NewBus()
	stop := j.Attach(bus)

	bus.Publish(link.EventLinkStale, link.LinkStale{Missed: 3})
	bus.Publish(link.EventTextDelivered, link.TextDelivered{OK: true})
	stop()
	stop()

	if bus.Len() != 0 {
		t.Errorf("Journal still subscribed")
	}
	entries, err := Read(j.Path())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != link.EventLinkStale || entries[1].Event != link.EventTextDelivered {
		t.Errorf("Entries = %+v", entries)
	}
}

func TestRead_ReportsBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	doc := `{"timestamp":1,"event":"battery"}` + "\n\nnot json\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	entries, err := Read(path)
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("Expected line 3 error, got %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 good entry, got %d", len(entries))
	}
}
