// Package bluez drives real glasses through the host Bluetooth stack
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows). Frames go
// out as write commands without a GATT response; delivery is confirmed by
// the glasses' own ack frames on the RX characteristic.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/user/glasslink/logger"
	"github.com/user/glasslink/transport"
)

var errLinkLost = errors.New("bluez: link lost")

// Adapter implements transport.Port over tinygo.org/x/bluetooth
type Adapter struct {
	radio *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu           sync.Mutex
	seen         map[string]bluetooth.Address
	device       bluetooth.Device
	connected    bool
	closing      bool
	chars        map[uuid.UUID]bluetooth.DeviceCharacteristic
	onDisconnect func(error)
}

var _ transport.Port = (*Adapter)(nil)

// New wraps the system default adapter
func New() *Adapter {
	a := &Adapter{
		radio: bluetooth.DefaultAdapter,
		seen:  make(map[string]bluetooth.Address),
		chars: make(map[uuid.UUID]bluetooth.DeviceCharacteristic),
	}
	return a
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.radio.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
			return
		}
		a.radio.SetConnectHandler(a.connectionChanged)
	})
	return a.enableErr
}

func (a *Adapter) connectionChanged(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	a.mu.Lock()
	ours := a.connected && dev.Address.String() == a.device.Address.String()
	closing := a.closing
	if ours {
		a.connected = false
		a.chars = make(map[uuid.UUID]bluetooth.DeviceCharacteristic)
	}
	cb := a.onDisconnect
	a.mu.Unlock()

	if ours && !closing && cb != nil {
		logger.Warn("bluez", "peer %s disconnected", dev.Address.String())
		cb(errLinkLost)
	}
}

func (a *Adapter) Scan(ctx context.Context, match func(transport.DeviceHandle) bool) (<-chan transport.DeviceHandle, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	out := make(chan transport.DeviceHandle, 4)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			dev := transport.DeviceHandle{
				Address: result.Address.String(),
				Name:    result.LocalName(),
				RSSI:    int(result.RSSI),
			}
			if dev.Name == "" || (match != nil && !match(dev)) {
				return
			}
			a.mu.Lock()
			a.seen[dev.Address] = result.Address
			a.mu.Unlock()
			select {
			case out <- dev:
			default:
			}
		})
		if err != nil {
			logger.Warn("bluez", "scan ended: %v", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			if err := a.radio.StopScan(); err != nil {
				logger.Debug("bluez", "stop scan: %v", err)
			}
			<-done
		case <-done:
		}
		close(out)
	}()
	return out, nil
}

func (a *Adapter) Connect(ctx context.Context, dev transport.DeviceHandle) error {
	if err := a.enable(); err != nil {
		return err
	}
	a.mu.Lock()
	addr, ok := a.seen[dev.Address]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("bluez: %s was not seen during scan", dev.Address)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	res := make(chan result, 1)
	go func() {
		d, err := a.radio.Connect(addr, bluetooth.ConnectionParams{})
		res <- result{device: d, err: err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			return fmt.Errorf("bluez: connect %s: %w", dev.Address, r.err)
		}
		a.mu.Lock()
		a.device = r.device
		a.connected = true
		a.closing = false
		a.mu.Unlock()
		return nil
	case <-ctx.Done():
		// A late success is torn down so the peer is not left attached
		go func() {
			if r := <-res; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return ctx.Err()
	}
}

func toBT(id uuid.UUID) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(id.String())
	if err != nil {
		panic(fmt.Sprintf("bluez: invalid uuid %s: %v", id, err))
	}
	return u
}

func (a *Adapter) Discover(ctx context.Context) (transport.ServiceHandles, error) {
	a.mu.Lock()
	dev, connected := a.device, a.connected
	a.mu.Unlock()
	if !connected {
		return transport.ServiceHandles{}, transport.ErrNotConnected
	}

	services, err := dev.DiscoverServices([]bluetooth.UUID{toBT(transport.UARTService)})
	if err != nil {
		return transport.ServiceHandles{}, fmt.Errorf("bluez: discover services: %w", err)
	}
	if len(services) == 0 {
		return transport.ServiceHandles{}, transport.ErrServiceNotFound
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		toBT(transport.UARTTX), toBT(transport.UARTRX),
	})
	if err != nil {
		return transport.ServiceHandles{}, fmt.Errorf("bluez: discover characteristics: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return transport.ServiceHandles{}, err
	}

	found := make(map[uuid.UUID]bluetooth.DeviceCharacteristic, len(chars))
	for _, c := range chars {
		id, err := uuid.Parse(c.UUID().String())
		if err != nil {
			continue
		}
		found[id] = c
	}
	if _, ok := found[transport.UARTTX]; !ok {
		return transport.ServiceHandles{}, fmt.Errorf("%w: tx characteristic", transport.ErrServiceNotFound)
	}
	if _, ok := found[transport.UARTRX]; !ok {
		return transport.ServiceHandles{}, fmt.Errorf("%w: rx characteristic", transport.ErrServiceNotFound)
	}

	a.mu.Lock()
	a.chars = found
	a.mu.Unlock()
	return transport.DefaultHandles(), nil
}

func (a *Adapter) characteristic(id uuid.UUID) (bluetooth.DeviceCharacteristic, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return bluetooth.DeviceCharacteristic{}, transport.ErrNotConnected
	}
	c, ok := a.chars[id]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("bluez: characteristic %s not discovered", id)
	}
	return c, nil
}

func (a *Adapter) SubscribeNotify(char uuid.UUID, fn func([]byte)) error {
	c, err := a.characteristic(char)
	if err != nil {
		return err
	}
	return c.EnableNotifications(func(buf []byte) {
		// The stack reuses buf after the callback returns
		fn(append([]byte{}, buf...))
	})
}

func (a *Adapter) Write(char uuid.UUID, data []byte) error {
	c, err := a.characteristic(char)
	if err != nil {
		return err
	}
	return writeCommand(c, data)
}

// commandWriter is the write every backend of the bluetooth package
// provides. BlueZ has no acknowledged Write on DeviceCharacteristic.
type commandWriter interface {
	WriteWithoutResponse(p []byte) (int, error)
}

func writeCommand(w commandWriter, data []byte) error {
	n, err := w.WriteWithoutResponse(data)
	if err != nil {
		return fmt.Errorf("bluez: write %d bytes: %w", len(data), err)
	}
	if n != len(data) {
		return fmt.Errorf("bluez: wrote %d of %d bytes: %w", n, len(data), io.ErrShortWrite)
	}
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	a.connected = false
	dev := a.device
	a.chars = make(map[uuid.UUID]bluetooth.DeviceCharacteristic)
	a.mu.Unlock()
	return dev.Disconnect()
}

func (a *Adapter) OnDisconnect(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDisconnect = fn
}
