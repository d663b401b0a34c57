// Package journal appends link events to a per-session JSONL file so a
// session can be inspected after the fact.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/glasslink/link"
	"github.com/user/glasslink/logger"
)

// FileName is the journal file inside a session directory
const FileName = "events.jsonl"

// Entry is one journal line
type Entry struct {
	Timestamp int64           `json:"timestamp"` // nanoseconds since epoch
	Session   string          `json:"session"`
	Event     link.EventType  `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// audioSummary replaces audio payloads, which would dominate the file
type audioSummary struct {
	Seq     byte `json:"seq"`
	Bytes   int  `json:"bytes"`
	Samples int  `json:"samples"`
}

// Journal manages append-only logging of one session's events
type Journal struct {
	session string
	logPath string
	prefix  string
	mutex   sync.Mutex
	enabled bool
}

// SessionDir is where a session's files live under dataDir
func SessionDir(dataDir string, session uuid.UUID) string {
	return filepath.Join(dataDir, session.String()[:8])
}

// New creates a journal for session under dataDir. A disabled journal
// drops everything.
func New(dataDir string, session uuid.UUID, enabled bool) *Journal {
	if !enabled {
		return &Journal{enabled: false}
	}
	return &Journal{
		session: session.String(),
		logPath: filepath.Join(SessionDir(dataDir, session), FileName),
		prefix:  session.String()[:8] + " journal",
		enabled: true,
	}
}

// Path returns the JSONL file path, empty when disabled
func (j *Journal) Path() string { return j.logPath }

// Log writes an event to the JSONL file
func (j *Journal) Log(ev link.Event) {
	if !j.enabled {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data := ev.Data
	if audio, ok := data.(link.AudioFrameDecoded); ok {
		data = audioSummary{Seq: audio.Seq, Bytes: len(audio.Compressed), Samples: len(audio.PCM)}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Warn(j.prefix, "Failed to marshal %s event: %v", ev.Type, err)
		return
	}
	line, err := json.Marshal(Entry{
		Timestamp: ev.Timestamp.UnixNano(),
		Session:   j.session,
		Event:     ev.Type,
		Data:      raw,
	})
	if err != nil {
		logger.Warn(j.prefix, "Failed to marshal journal entry: %v", err)
		return
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.logPath), 0755); err != nil {
		logger.Warn(j.prefix, "Failed to create session directory: %v", err)
		return
	}
	f, err := os.OpenFile(j.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn(j.prefix, "Failed to open journal: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		logger.Warn(j.prefix, "Failed to write journal entry: %v", err)
	}
}

// Attach records every event published on bus until the returned stop
// function is called. Stop waits for queued events to be written.
func (j *Journal) Attach(bus *link.Bus) (stop func()) {
	events, unsub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			j.Log(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			<-done
		})
	}
}

// Read loads every entry from a journal file
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
