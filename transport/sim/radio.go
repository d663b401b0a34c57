package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/user/glasslink/codec"
)

// Config controls the realism of the simulated glasses
type Config struct {
	Name    string // Advertised name; default "Even G1_0_L_SIM"
	Address string // Default: random UUID-derived address

	MaxWrite int // Largest accepted write; default codec.DefaultMaxWrite

	// Timing
	AdvertisingDelay time.Duration // Default: 20ms
	MinConnectDelay  time.Duration // Default: 5ms
	MaxConnectDelay  time.Duration // Default: 20ms
	DiscoverDelay    time.Duration // Default: 5ms
	ResponseDelay    time.Duration // Default: 2ms between write and reply

	// Reliability
	ConnectionFailureRate float64 // Default: 0
	ResponseLossRate      float64 // Default: 0 (fraction of replies dropped)

	// Radio characteristics
	BaseRSSI     int // Default: -50 dBm
	RSSIVariance int // Default: 10 dBm
	Distance     float64

	// Peer state
	Battery       int  // Default: 80
	Unavailable   bool // Scan fails with transport.ErrUnavailable
	NoUARTService bool // Discover fails with transport.ErrServiceNotFound

	// Deterministic mode for testing
	Deterministic bool
	Seed          int64
}

// DefaultConfig returns realistic simulation parameters
func DefaultConfig() *Config {
	return &Config{
		Name:             "Even G1_0_L_SIM",
		MaxWrite:         codec.DefaultMaxWrite,
		AdvertisingDelay: 20 * time.Millisecond,
		MinConnectDelay:  5 * time.Millisecond,
		MaxConnectDelay:  20 * time.Millisecond,
		DiscoverDelay:    5 * time.Millisecond,
		ResponseDelay:    2 * time.Millisecond,
		BaseRSSI:         -50,
		RSSIVariance:     10,
		Distance:         1,
		Battery:          80,
	}
}

// PerfectConfig returns a zero-latency, loss-free config for tests
func PerfectConfig() *Config {
	cfg := DefaultConfig()
	cfg.AdvertisingDelay = 0
	cfg.MinConnectDelay = 0
	cfg.MaxConnectDelay = 0
	cfg.DiscoverDelay = 0
	cfg.ResponseDelay = 0
	cfg.RSSIVariance = 0
	cfg.Deterministic = true
	return cfg
}

// radio draws the random parts of the simulation
type radio struct {
	cfg *Config
	mu  sync.Mutex
	rng *rand.Rand
}

func newRadio(cfg *Config) *radio {
	seed := time.Now().UnixNano()
	if cfg.Deterministic {
		seed = cfg.Seed
	}
	return &radio{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (r *radio) float() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *radio) intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

func (r *radio) connectionSucceeds() bool {
	return r.float() >= r.cfg.ConnectionFailureRate
}

func (r *radio) responseDelivered() bool {
	return r.float() >= r.cfg.ResponseLossRate
}

func (r *radio) connectDelay() time.Duration {
	lo, hi := r.cfg.MinConnectDelay, r.cfg.MaxConnectDelay
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.intn(int(hi-lo)))
}

// rssi applies simplified free-space path loss plus random variance,
// clamped to the usable BLE range.
func (r *radio) rssi() int {
	distance := r.cfg.Distance
	if distance <= 0 {
		distance = 1
	}
	value := float64(r.cfg.BaseRSSI) - 20*math.Log10(distance)
	if r.cfg.RSSIVariance > 0 {
		value += float64(r.intn(r.cfg.RSSIVariance*2) - r.cfg.RSSIVariance)
	}
	switch {
	case value < -100:
		value = -100
	case value > -20:
		value = -20
	}
	return int(value)
}
