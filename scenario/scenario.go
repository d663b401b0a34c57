// Package scenario replays scripted timelines against simulated glasses and
// checks the outcome, for reproducing link behaviour without hardware.
package scenario

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/link"
	"github.com/user/glasslink/transport/sim"
)

// Scenario defines a complete link test case
type Scenario struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Glasses     GlassesConfig   `json:"glasses"`
	Timeline    []TimelineEvent `json:"timeline"`
	Assertions  []Assertion     `json:"assertions"`
	SettleMs    int             `json:"settle_ms,omitempty"` // wait after the last event; default 500
}

// GlassesConfig describes the simulated peer
type GlassesConfig struct {
	Name                  string  `json:"name,omitempty"`
	Battery               int     `json:"battery,omitempty"`
	ConnectionFailureRate float64 `json:"connection_failure_rate,omitempty"`
	ResponseLossRate      float64 `json:"response_loss_rate,omitempty"`
	Realistic             bool    `json:"realistic,omitempty"` // use radio delays instead of a perfect link
	Seed                  int64   `json:"seed,omitempty"`
}

// TimelineEvent represents an action at a specific time
type TimelineEvent struct {
	TimeMs  int                    `json:"time_ms"`
	Action  string                 `json:"action"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Comment string                 `json:"comment,omitempty"`
}

// Action types
const (
	ActionConnect          = "connect"
	ActionDisconnect       = "disconnect"
	ActionDestroy          = "destroy"
	ActionSendText         = "send_text"
	ActionSendDoubleText   = "send_double_text"
	ActionSendNotification = "send_notification"
	ActionSendBitmap       = "send_bitmap"
	ActionSetBrightness    = "set_brightness"
	ActionSetMic           = "set_mic"
	ActionClearDisplay     = "clear_display"
	ActionQueryBattery     = "query_battery"
	ActionDropLink         = "drop_link"     // Glasses go out of range
	ActionFailConnects     = "fail_connects" // Next n connects fail
	ActionSilence          = "silence"       // Glasses stop answering an opcode
	ActionUnsilence        = "unsilence"
	ActionSetBattery       = "set_battery"
	ActionInject           = "inject" // Raw frame from the glasses
	ActionWait             = "wait"
)

var knownActions = map[string]bool{
	ActionConnect: true, ActionDisconnect: true, ActionDestroy: true,
	ActionSendText: true, ActionSendDoubleText: true, ActionSendNotification: true,
	ActionSendBitmap: true, ActionSetBrightness: true, ActionSetMic: true,
	ActionClearDisplay: true, ActionQueryBattery: true, ActionDropLink: true,
	ActionFailConnects: true, ActionSilence: true, ActionUnsilence: true,
	ActionSetBattery: true, ActionInject: true, ActionWait: true,
}

// Assertion defines an expected outcome
type Assertion struct {
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Comment string                 `json:"comment,omitempty"`
}

// Assertion types
const (
	AssertionState                 = "state"
	AssertionTextsReceived         = "texts_received"
	AssertionNotificationsReceived = "notifications_received"
	AssertionImagesReceived        = "images_received"
	AssertionCRCFailures           = "crc_failures"
	AssertionEventCount            = "event_count"
	AssertionBattery               = "battery"
	AssertionConnectCalls          = "connect_calls"
	AssertionQueueEmpty            = "queue_empty"
)

var knownAssertions = map[string]bool{
	AssertionState: true, AssertionTextsReceived: true, AssertionNotificationsReceived: true,
	AssertionImagesReceived: true, AssertionCRCFailures: true, AssertionEventCount: true,
	AssertionBattery: true, AssertionConnectCalls: true, AssertionQueueEmpty: true,
}

// LoadScenario loads a scenario from a JSON file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := json.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &scenario, nil
}

// Save saves a scenario to a JSON file
func (s *Scenario) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Duration returns the time of the last timeline event
func (s *Scenario) Duration() time.Duration {
	maxTime := 0
	for _, event := range s.Timeline {
		if event.TimeMs > maxTime {
			maxTime = event.TimeMs
		}
	}
	return time.Duration(maxTime) * time.Millisecond
}

func (s *Scenario) settle() time.Duration {
	if s.SettleMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(s.SettleMs) * time.Millisecond
}

// Validate checks the scenario for unknown actions and malformed data
func (s *Scenario) Validate() []string {
	var errors []string

	for i, event := range s.Timeline {
		if !knownActions[event.Action] {
			errors = append(errors, fmt.Sprintf("event %d: unknown action %q", i, event.Action))
			continue
		}
		if event.TimeMs < 0 {
			errors = append(errors, fmt.Sprintf("event %d: negative time", i))
		}
		switch event.Action {
		case ActionSilence, ActionUnsilence:
			if _, err := opcode(event.Data["opcode"]); err != nil {
				errors = append(errors, fmt.Sprintf("event %d: %v", i, err))
			}
		case ActionInject:
			if _, err := frameBytes(event.Data["hex"]); err != nil {
				errors = append(errors, fmt.Sprintf("event %d: %v", i, err))
			}
		}
	}

	for i, assertion := range s.Assertions {
		if !knownAssertions[assertion.Type] {
			errors = append(errors, fmt.Sprintf("assertion %d: unknown type %q", i, assertion.Type))
		}
		if assertion.Type == AssertionState {
			if _, err := parseState(str(assertion.Data, "state")); err != nil {
				errors = append(errors, fmt.Sprintf("assertion %d: %v", i, err))
			}
		}
	}

	return errors
}

// simConfig builds the simulated peer's configuration
func (g GlassesConfig) simConfig() *sim.Config {
	cfg := sim.PerfectConfig()
	if g.Realistic {
		cfg = sim.DefaultConfig()
		cfg.Deterministic = true
	}
	if g.Name != "" {
		cfg.Name = g.Name
	}
	if g.Battery > 0 {
		cfg.Battery = g.Battery
	}
	cfg.ConnectionFailureRate = g.ConnectionFailureRate
	cfg.ResponseLossRate = g.ResponseLossRate
	cfg.Seed = g.Seed
	return cfg
}

// Helpers for the loosely typed data maps

func num(data map[string]interface{}, key string, def float64) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func boolean(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

// opcode accepts a number, a "0x.." string or an opcode name
func opcode(v interface{}) (byte, error) {
	switch v := v.(type) {
	case float64:
		if v >= 0 && v <= 255 {
			return byte(v), nil
		}
	case string:
		if n, err := strconv.ParseUint(v, 0, 8); err == nil {
			return byte(n), nil
		}
		for op, name := range codec.OpcodeNames {
			if strings.EqualFold(name, v) {
				return op, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid opcode %v", v)
}

func frameBytes(v interface{}) ([]byte, error) {
	s, _ := v.(string)
	b, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(s))
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("invalid frame %q", s)
	}
	return b, nil
}

func parseState(name string) (link.State, error) {
	for s := link.Idle; s <= link.Destroyed; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}
