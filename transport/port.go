package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// UART-style service exposed by the glasses. The host writes commands to TX
// and receives notifications on RX.
var (
	UARTService = uuid.MustParse("00004860-0000-1000-8000-00805f9b34fb")
	UARTTX      = uuid.MustParse("000071ff-0000-1000-8000-00805f9b34fb")
	UARTRX      = uuid.MustParse("000070ff-0000-1000-8000-00805f9b34fb")
)

var (
	// ErrUnavailable means the radio is off, missing or not permitted
	ErrUnavailable = errors.New("transport: radio unavailable")
	// ErrNotConnected is returned by operations that need a live link
	ErrNotConnected = errors.New("transport: not connected")
	// ErrServiceNotFound is returned by Discover when the UART service is absent
	ErrServiceNotFound = errors.New("transport: service not found")
)

// DeviceHandle identifies an advertising peer
type DeviceHandle struct {
	Address string
	Name    string
	RSSI    int
}

// ServiceHandles are the characteristics found during discovery
type ServiceHandles struct {
	Service uuid.UUID
	TX      uuid.UUID
	RX      uuid.UUID
}

// DefaultHandles returns the glasses' UART service layout
func DefaultHandles() ServiceHandles {
	return ServiceHandles{Service: UARTService, TX: UARTTX, RX: UARTRX}
}

// Port is the radio link the engine drives. Implementations must deliver
// notifications and disconnect callbacks from their own goroutines; the
// callbacks never block for long.
type Port interface {
	// Scan starts discovery and returns matching peers. The channel closes
	// when ctx ends or the scan stops.
	Scan(ctx context.Context, match func(DeviceHandle) bool) (<-chan DeviceHandle, error)
	Connect(ctx context.Context, dev DeviceHandle) error
	Discover(ctx context.Context) (ServiceHandles, error)
	SubscribeNotify(char uuid.UUID, fn func(data []byte)) error
	Write(char uuid.UUID, data []byte) error
	Disconnect() error
	// OnDisconnect registers the callback for links the host did not close
	OnDisconnect(fn func(err error))
}

// Selector decides which advertising peer to connect to
type Selector struct {
	Address    string
	NamePrefix string
}

// Match reports whether dev satisfies the selector. An empty selector
// matches every device.
func (s Selector) Match(dev DeviceHandle) bool {
	if s.Address != "" && !strings.EqualFold(s.Address, dev.Address) {
		return false
	}
	if s.NamePrefix != "" && !strings.HasPrefix(dev.Name, s.NamePrefix) {
		return false
	}
	return true
}

func (s Selector) String() string {
	switch {
	case s.Address != "":
		return s.Address
	case s.NamePrefix != "":
		return s.NamePrefix + "*"
	}
	return "*"
}
