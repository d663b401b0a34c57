// Package glasses is the host-facing API: display, configuration and
// battery operations over one link to a pair of glasses.
package glasses

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/layout"
	"github.com/user/glasslink/link"
	"github.com/user/glasslink/logger"
	"github.com/user/glasslink/transport"
)

// DefaultWhitelist is sent once per session when no whitelist is configured
var DefaultWhitelist = []codec.WhitelistEntry{{ID: "com.augment.os", Name: "AugmentOS"}}

// firstNotificationID is the msg_id of the first notification in a session
const firstNotificationID = 10

// Options configures the facade
type Options struct {
	Link           link.Options
	MaxWrite       int           // Default: codec.DefaultMaxWrite
	Layout         layout.Layout // Zero value: default geometry and glyphs
	TextChunkDelay time.Duration // Pause after each non-final text chunk
	Whitelist      []codec.WhitelistEntry
	Clock          func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Link:           link.DefaultOptions(),
		MaxWrite:       codec.DefaultMaxWrite,
		Layout:         layout.New(layout.DefaultGlyphs()),
		TextChunkDelay: 300 * time.Millisecond,
		Whitelist:      DefaultWhitelist,
	}
}

// Glasses drives one pair of glasses
type Glasses struct {
	link    *link.Link
	enc     *codec.Encoder
	layout  layout.Layout
	opts    Options
	prefix  string
	flavour link.Flavour

	textSeq      codec.Sequence
	notifySeq    codec.Sequence
	whitelistSeq codec.Sequence

	mu            sync.Mutex
	msgID         int
	dashboard     byte
	whitelistSent bool
}

// New wires the facade to port. Nothing is sent until Connect.
func New(port transport.Port, opts Options) *Glasses {
	if opts.Layout.Oracle == nil {
		opts.Layout = layout.New(layout.DefaultGlyphs())
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Whitelist == nil {
		opts.Whitelist = DefaultWhitelist
	}

	g := &Glasses{
		link:    link.New(port, opts.Link),
		enc:     codec.NewEncoder(opts.MaxWrite),
		layout:  opts.Layout,
		opts:    opts,
		flavour: opts.Link.Heartbeat.Flavour,
		msgID:   firstNotificationID,
	}
	g.prefix = g.link.Session().String()[:8] + " glasses"
	g.link.OnReady(g.initialise)
	return g
}

// Link exposes the underlying connection
func (g *Glasses) Link() *link.Link { return g.link }

// initialise runs on every transition to Ready
func (g *Glasses) initialise() {
	if g.flavour == link.FlavourNex {
		return
	}
	if err := g.SetMicEnabled(false); err != nil {
		logger.Warn(g.prefix, "mic off: %v", err)
	}

	g.mu.Lock()
	send := !g.whitelistSent
	g.whitelistSent = true
	g.mu.Unlock()
	if send {
		if err := g.SendWhitelist(g.opts.Whitelist); err != nil {
			logger.Warn(g.prefix, "whitelist: %v", err)
		}
	}
}

func (g *Glasses) Connect(sel transport.Selector) error {
	logger.Info(g.prefix, "connecting to %s", sel)
	return g.link.Connect(sel)
}

func (g *Glasses) Disconnect() error {
	return g.link.Disconnect()
}

func (g *Glasses) Destroy() {
	g.link.Destroy()
}

func (g *Glasses) State() link.State { return g.link.State() }
func (g *Glasses) Live() link.Live   { return g.link.Live() }
func (g *Glasses) Info() link.Info   { return g.link.Info() }

// Drain waits until everything sent so far has been delivered or given up on
func (g *Glasses) Drain(ctx context.Context) error {
	return g.link.Queue().Drain(ctx)
}

// Subscribe returns the host event stream and its cancel function
func (g *Glasses) Subscribe() (<-chan link.Event, func()) {
	return g.link.Bus().Subscribe()
}

func (g *Glasses) send(items ...link.OutboundItem) error {
	switch g.link.State() {
	case link.Ready:
	case link.Destroyed:
		return link.ErrDestroyed
	default:
		return link.ErrNotReady
	}
	return g.link.Enqueue(items...)
}

func (g *Glasses) command(label string, frame []byte) error {
	return g.send(link.OutboundItem{Payload: frame, Label: label})
}

// SendText shows a title and body card. Only the first page of the
// wrapped text is sent.
func (g *Glasses) SendText(title, body string) error {
	return g.sendPage(title + "\n\n" + body)
}

// SendTextWall shows text without a title
func (g *Glasses) SendTextWall(text string) error {
	return g.sendPage(text)
}

// SendDoubleTextWall shows two texts side by side
func (g *Glasses) SendDoubleTextWall(left, right string) error {
	return g.sendRendered(g.layout.Columns(left, right))
}

func (g *Glasses) sendPage(text string) error {
	return g.sendRendered(g.layout.FirstPage(text))
}

func (g *Glasses) sendRendered(page string) error {
	frames, err := g.enc.EncodeText(g.textSeq.Next(), 0, 1, []byte(page))
	if err != nil {
		return fmt.Errorf("encode text: %w", err)
	}
	items := make([]link.OutboundItem, len(frames))
	for i, f := range frames {
		items[i] = link.OutboundItem{Payload: f, Label: fmt.Sprintf("text %d/%d", i+1, len(frames))}
		if i < len(frames)-1 {
			items[i].Delay = g.opts.TextChunkDelay
		}
	}
	logger.Debug(g.prefix, "text page of %d bytes in %d chunks", len(page), len(frames))
	return g.send(items...)
}

// SendNotification forwards a phone notification
func (g *Glasses) SendNotification(appID, title, subtitle, body string) error {
	g.mu.Lock()
	id := g.msgID
	g.msgID++
	g.mu.Unlock()

	payload, err := codec.NotificationPayload(codec.NewNotification(id, appID, title, subtitle, body, g.opts.Clock()))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return g.sendChunked(codec.KindNotification, &g.notifySeq, "notification", payload)
}

// SendWhitelist replaces the set of apps allowed to notify
func (g *Glasses) SendWhitelist(entries []codec.WhitelistEntry) error {
	payload, err := codec.WhitelistPayload(entries)
	if err != nil {
		return fmt.Errorf("encode whitelist: %w", err)
	}
	return g.sendChunked(codec.KindWhitelist, &g.whitelistSeq, "whitelist", payload)
}

func (g *Glasses) sendChunked(kind codec.Kind, seq *codec.Sequence, label string, payload []byte) error {
	frames, err := g.enc.Encode(kind, seq.Next(), payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", label, err)
	}
	items := make([]link.OutboundItem, len(frames))
	for i, f := range frames {
		items[i] = link.OutboundItem{Payload: f, Label: fmt.Sprintf("%s %d/%d", label, i+1, len(frames))}
	}
	return g.send(items...)
}

// SendBitmap transfers a 1-bit BMP image. A CRC rejection is reported as
// an EventChecksumRejected event and is not retried.
func (g *Glasses) SendBitmap(image []byte) error {
	frames, err := g.enc.EncodeBitmap(image)
	if err != nil {
		return fmt.Errorf("encode bitmap: %w", err)
	}
	items := make([]link.OutboundItem, 0, len(frames.Blocks)+2)
	for i, b := range frames.Blocks {
		items = append(items, link.OutboundItem{Payload: b, Label: fmt.Sprintf("bitmap %d/%d", i+1, len(frames.Blocks))})
	}
	items = append(items,
		link.OutboundItem{Payload: frames.End, Label: "bitmap end"},
		link.OutboundItem{Payload: frames.CRC, Label: "bitmap crc"},
	)
	logger.Info(g.prefix, "bitmap of %d bytes in %d blocks", len(image), len(frames.Blocks))
	return g.send(items...)
}

func (g *Glasses) SetBrightness(percent int, auto bool) error {
	return g.command("brightness", codec.Brightness(percent, auto))
}

func (g *Glasses) SetMicEnabled(enabled bool) error {
	return g.command("mic", codec.Mic(enabled))
}

func (g *Glasses) SetHeadUpAngle(degrees int) error {
	return g.command("head-up angle", codec.HeadUpAngle(degrees))
}

// SetDashboardPosition places the dashboard at height 0-8 and depth 1-9
func (g *Glasses) SetDashboardPosition(height, depth int) error {
	g.mu.Lock()
	counter := g.dashboard
	g.dashboard++
	g.mu.Unlock()
	return g.command("dashboard position", codec.DashboardPosition(counter, height, depth))
}

// ClearDisplay exits whatever the glasses are showing
func (g *Glasses) ClearDisplay() error {
	return g.command("exit", codec.Exit())
}

// QueryBatteryNow asks for the battery level outside the heartbeat cycle
func (g *Glasses) QueryBatteryNow() error {
	switch g.link.State() {
	case link.Ready:
	case link.Destroyed:
		return link.ErrDestroyed
	default:
		return link.ErrNotReady
	}
	return g.link.Heartbeat().QueryBattery()
}
