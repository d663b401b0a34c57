package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/glasslink/glasses"
	"github.com/user/glasslink/link"
	"github.com/user/glasslink/logger"
	"github.com/user/glasslink/transport"
	"github.com/user/glasslink/transport/sim"
)

// LogEntry records something that happened during the run
type LogEntry struct {
	TimeMs    int    `json:"time_ms"`
	EventType string `json:"event_type"`
	Message   string `json:"message"`
}

// AssertionResult records the outcome of an assertion
type AssertionResult struct {
	Assertion Assertion `json:"assertion"`
	Passed    bool      `json:"passed"`
	Message   string    `json:"message"`
}

// Result is the outcome of one run
type Result struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Started     time.Time         `json:"started"`
	Elapsed     time.Duration     `json:"elapsed"`
	Log         []LogEntry        `json:"log"`
	Assertions  []AssertionResult `json:"assertions"`
}

// Passed reports whether every assertion held
func (r *Result) Passed() bool {
	for _, a := range r.Assertions {
		if !a.Passed {
			return false
		}
	}
	return true
}

// Runner executes a scenario against a simulated peer
type Runner struct {
	scenario *Scenario
	peer     *sim.Glasses
	glasses  *glasses.Glasses
	prefix   string

	mu        sync.Mutex
	startTime time.Time
	eventLog  []LogEntry
	counts    map[link.EventType]int

	unsub   func()
	watched chan struct{}
}

// NewRunner validates the scenario and wires glasses built from opts to a
// simulated peer.
func NewRunner(s *Scenario, opts glasses.Options) (*Runner, error) {
	if errs := s.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("scenario validation failed: %s", strings.Join(errs, "; "))
	}

	peer := sim.New(s.Glasses.simConfig())
	r := &Runner{
		scenario: s,
		peer:     peer,
		glasses:  glasses.New(peer, opts),
		prefix:   "scenario " + s.Name,
		counts:   make(map[link.EventType]int),
		watched:  make(chan struct{}),
	}

	events, unsub := r.glasses.Subscribe()
	r.unsub = unsub
	go r.watch(events)
	return r, nil
}

// Peer exposes the simulated glasses
func (r *Runner) Peer() *sim.Glasses { return r.peer }

// Glasses exposes the host side
func (r *Runner) Glasses() *glasses.Glasses { return r.glasses }

func (r *Runner) watch(events <-chan link.Event) {
	defer close(r.watched)
	for ev := range events {
		r.mu.Lock()
		r.counts[ev.Type]++
		r.mu.Unlock()
		if ev.Type == link.EventAudio {
			continue
		}
		r.logEvent(string(ev.Type), compactJSON(ev.Data))
	}
}

// Run executes the timeline, waits for the link to settle and checks the
// assertions. The glasses are destroyed afterwards.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	defer r.close()

	timeline := append([]TimelineEvent(nil), r.scenario.Timeline...)
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].TimeMs < timeline[j].TimeMs
	})

	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()
	started := r.startTime

	for _, event := range timeline {
		at := started.Add(time.Duration(event.TimeMs) * time.Millisecond)
		if err := sleepUntil(ctx, at); err != nil {
			return nil, err
		}
		msg := event.Comment
		if msg == "" {
			msg = compactJSON(event.Data)
		}
		r.logEvent(event.Action, msg)
		if err := r.executeEvent(event); err != nil {
			logger.Warn(r.prefix, "%s at %dms: %v", event.Action, event.TimeMs, err)
			r.logEvent("error", fmt.Sprintf("%s failed: %v", event.Action, err))
		}
	}

	if err := sleepUntil(ctx, time.Now().Add(r.scenario.settle())); err != nil {
		return nil, err
	}

	results := r.CheckAssertions()
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Result{
		Name:        r.scenario.Name,
		Description: r.scenario.Description,
		Started:     started,
		Elapsed:     time.Since(started),
		Log:         append([]LogEntry(nil), r.eventLog...),
		Assertions:  results,
	}, nil
}

func (r *Runner) close() {
	r.glasses.Destroy()
	r.unsub()
	<-r.watched
}

func sleepUntil(ctx context.Context, at time.Time) error {
	wait := time.Until(at)
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// executeEvent executes a single timeline event
func (r *Runner) executeEvent(event TimelineEvent) error {
	g, d := r.glasses, event.Data

	switch event.Action {
	case ActionConnect:
		name := r.scenario.Glasses.simConfig().Name
		return g.Connect(transport.Selector{NamePrefix: name})
	case ActionDisconnect:
		return g.Disconnect()
	case ActionDestroy:
		g.Destroy()
		return nil
	case ActionSendText:
		if title := str(d, "title"); title != "" {
			return g.SendText(title, str(d, "body"))
		}
		return g.SendTextWall(str(d, "body"))
	case ActionSendDoubleText:
		return g.SendDoubleTextWall(str(d, "left"), str(d, "right"))
	case ActionSendNotification:
		appID := str(d, "app_id")
		if appID == "" {
			appID = "com.augment.os"
		}
		return g.SendNotification(appID, str(d, "title"), str(d, "subtitle"), str(d, "body"))
	case ActionSendBitmap:
		size := int(num(d, "size", 1000))
		image := make([]byte, size)
		for i := range image {
			image[i] = byte(i * 7)
		}
		return g.SendBitmap(image)
	case ActionSetBrightness:
		return g.SetBrightness(int(num(d, "percent", 50)), boolean(d, "auto"))
	case ActionSetMic:
		return g.SetMicEnabled(boolean(d, "enabled"))
	case ActionClearDisplay:
		return g.ClearDisplay()
	case ActionQueryBattery:
		return g.QueryBatteryNow()
	case ActionDropLink:
		r.peer.DropLink(nil)
		return nil
	case ActionFailConnects:
		r.peer.FailNextConnects(int(num(d, "count", 1)))
		return nil
	case ActionSilence, ActionUnsilence:
		op, err := opcode(d["opcode"])
		if err != nil {
			return err
		}
		r.peer.SetSilent(op, event.Action == ActionSilence)
		return nil
	case ActionSetBattery:
		r.peer.SetBattery(int(num(d, "level", 80)))
		return nil
	case ActionInject:
		frame, err := frameBytes(d["hex"])
		if err != nil {
			return err
		}
		r.peer.Inject(frame)
		return nil
	case ActionWait:
		return nil
	default:
		return fmt.Errorf("unknown action: %s", event.Action)
	}
}

// CheckAssertions evaluates every assertion against the current state
func (r *Runner) CheckAssertions() []AssertionResult {
	results := make([]AssertionResult, 0, len(r.scenario.Assertions))
	for _, assertion := range r.scenario.Assertions {
		results = append(results, r.checkAssertion(assertion))
	}
	return results
}

func (r *Runner) checkAssertion(a Assertion) AssertionResult {
	peer := r.peer.Snapshot()

	switch a.Type {
	case AssertionState:
		want, _ := parseState(str(a.Data, "state"))
		got := r.glasses.State()
		return result(a, got == want, "state is %s, want %s", got, want)
	case AssertionTextsReceived:
		res := countResult(a, "texts", len(peer.Texts))
		if res.Passed {
			if sub := str(a.Data, "contains"); sub != "" {
				found := false
				for _, t := range peer.Texts {
					if strings.Contains(t, sub) {
						found = true
					}
				}
				return result(a, found, "%d texts; %q found: %v", len(peer.Texts), sub, found)
			}
		}
		return res
	case AssertionNotificationsReceived:
		return countResult(a, "notifications", len(peer.Notifications))
	case AssertionImagesReceived:
		return countResult(a, "images", len(peer.Images))
	case AssertionCRCFailures:
		return countResult(a, "CRC failures", peer.CRCFailures)
	case AssertionConnectCalls:
		return countResult(a, "connect calls", peer.ConnectCalls)
	case AssertionEventCount:
		event := link.EventType(str(a.Data, "event"))
		r.mu.Lock()
		n := r.counts[event]
		r.mu.Unlock()
		return countResult(a, string(event)+" events", n)
	case AssertionBattery:
		want := int(num(a.Data, "percent", -1))
		got := r.glasses.Live().Battery
		return result(a, got == want, "battery %d%%, want %d%%", got, want)
	case AssertionQueueEmpty:
		q := r.glasses.Link().Queue()
		n := q.Len()
		return result(a, n == 0 && !q.Pending(), "%d queued, pending ack: %v", n, q.Pending())
	default:
		return result(a, false, "unknown assertion type %q", a.Type)
	}
}

// countResult compares n with the assertion's count, or min and max
func countResult(a Assertion, what string, n int) AssertionResult {
	if _, exact := a.Data["count"]; exact {
		want := int(num(a.Data, "count", 0))
		return result(a, n == want, "%d %s, want %d", n, what, want)
	}
	lo := int(num(a.Data, "min", 0))
	hi := int(num(a.Data, "max", -1))
	ok := n >= lo && (hi < 0 || n <= hi)
	if hi < 0 {
		return result(a, ok, "%d %s, want at least %d", n, what, lo)
	}
	return result(a, ok, "%d %s, want %d-%d", n, what, lo, hi)
}

func compactJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(b)
}

func result(a Assertion, passed bool, format string, args ...interface{}) AssertionResult {
	return AssertionResult{Assertion: a, Passed: passed, Message: fmt.Sprintf(format, args...)}
}

// logEvent records an event in the log
func (r *Runner) logEvent(eventType, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	timeMs := 0
	if !r.startTime.IsZero() {
		timeMs = int(time.Since(r.startTime) / time.Millisecond)
	}
	r.eventLog = append(r.eventLog, LogEntry{
		TimeMs:    timeMs,
		EventType: eventType,
		Message:   message,
	})
}
