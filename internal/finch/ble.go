package finch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// Nordic UART service exposed by the Finch 2.0 micro:bit.
var (
	uartServiceUUIDStr = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	uartTxUUIDStr      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	uartRxUUIDStr      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

var errLinkClosed = errors.New("ble link closed")

// BLETransport talks to the robot over Bluetooth LE.
type BLETransport struct {
	adapter        *bluetooth.Adapter
	deviceNames    []string
	scanTimeout    time.Duration
	connectTimeout time.Duration

	mu      sync.Mutex
	device  bluetooth.Device
	tx      bluetooth.DeviceCharacteristic
	open    bool
	rxChan  chan []byte
	closed  chan struct{}
	pending []byte
}

// NewBLETransport creates a transport that connects to the first advertiser whose
// name starts with one of deviceNames.
func NewBLETransport(deviceNames []string, scanTimeout, connectTimeout time.Duration) *BLETransport {
	return &BLETransport{
		adapter:        bluetooth.DefaultAdapter,
		deviceNames:    deviceNames,
		scanTimeout:    scanTimeout,
		connectTimeout: connectTimeout,
	}
}

// matchesName checks if name starts with any of the configured prefixes.
func matchesName(prefixes []string, name string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (t *BLETransport) Open(ctx context.Context) error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	log.Println("[Finch] Scanning for robot...")
	t.adapter.StopScan()

	found := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := t.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if matchesName(t.deviceNames, result.LocalName()) {
				a.StopScan()
				select {
				case found <- result:
				default:
				}
			}
		})
		if err != nil {
			log.Errorf("[Finch] Scan error: %v", err)
		}
	}()

	var result bluetooth.ScanResult
	scanCtx, cancelScan := context.WithTimeout(ctx, t.scanTimeout)
	defer cancelScan()
	select {
	case result = <-found:
		log.Printf("[Finch] Found %s (RSSI: %d)", result.LocalName(), result.RSSI)
	case <-scanCtx.Done():
		t.adapter.StopScan()
		return fmt.Errorf("scan: %w", scanCtx.Err())
	}

	connectErr := make(chan error, 1)
	var dev bluetooth.Device
	go func() {
		d, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
		if err == nil {
			dev = d
		}
		connectErr <- err
	}()

	select {
	case err := <-connectErr:
		if err != nil {
			return fmt.Errorf("connect %s: %w", result.Address.String(), err)
		}
	case <-time.After(t.connectTimeout):
		return fmt.Errorf("connect %s: timed out", result.Address.String())
	case <-ctx.Done():
		return ctx.Err()
	}

	tx, rx, err := discoverUART(dev)
	if err != nil {
		dev.Disconnect()
		return err
	}

	t.mu.Lock()
	t.device = dev
	t.tx = tx
	t.rxChan = make(chan []byte, 64)
	t.closed = make(chan struct{})
	t.pending = nil
	t.open = true
	rxChan, closed := t.rxChan, t.closed
	t.mu.Unlock()

	err = rx.EnableNotifications(func(buf []byte) {
		chunk := append([]byte(nil), buf...)
		select {
		case rxChan <- chunk:
		case <-closed:
		default:
			log.Warn("[Finch] BLE receive buffer full, dropping notification")
		}
	})
	if err != nil {
		t.Close()
		return fmt.Errorf("enable notifications: %w", err)
	}

	log.Printf("[Finch] Connected to %s", result.LocalName())
	return nil
}

func discoverUART(dev bluetooth.Device) (tx, rx bluetooth.DeviceCharacteristic, err error) {
	serviceUUID, _ := bluetooth.ParseUUID(uartServiceUUIDStr)
	txUUID, _ := bluetooth.ParseUUID(uartTxUUIDStr)
	rxUUID, _ := bluetooth.ParseUUID(uartRxUUIDStr)

	services, err := dev.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return tx, rx, fmt.Errorf("discover UART service: %w", orNotFound(err))
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{txUUID, rxUUID})
	if err != nil || len(chars) < 2 {
		return tx, rx, fmt.Errorf("discover UART characteristics: %w", orNotFound(err))
	}
	for _, c := range chars {
		switch c.UUID() {
		case txUUID:
			tx = c
		case rxUUID:
			rx = c
		}
	}
	return tx, rx, nil
}

func orNotFound(err error) error {
	if err != nil {
		return err
	}
	return errors.New("not found")
}

func (t *BLETransport) Write(p []byte) error {
	t.mu.Lock()
	open, tx := t.open, t.tx
	t.mu.Unlock()
	if !open {
		return errLinkClosed
	}
	_, err := tx.WriteWithoutResponse(p)
	return err
}

// Read returns bytes received through notifications, blocking until some arrive.
func (t *BLETransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return 0, errLinkClosed
	}
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	rxChan, closed := t.rxChan, t.closed
	t.mu.Unlock()

	select {
	case chunk := <-rxChan:
		n := copy(p, chunk)
		if n < len(chunk) {
			t.mu.Lock()
			t.pending = append(t.pending, chunk[n:]...)
			t.mu.Unlock()
		}
		return n, nil
	case <-closed:
		return 0, errLinkClosed
	}
}

func (t *BLETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	close(t.closed)
	return t.device.Disconnect()
}
