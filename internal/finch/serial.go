package finch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial.v1"
)

var errNotOpen = errors.New("port not open")

// SerialTransport talks to the robot over a USB serial port. If PortName cannot be
// opened the Fallbacks are tried in order.
type SerialTransport struct {
	PortName  string
	Fallbacks []string
	BaudRate  int

	mu   sync.Mutex
	port serial.Port
}

// NewSerialTransport creates a transport for the named port.
func NewSerialTransport(portName string, baudRate int, fallbacks ...string) *SerialTransport {
	return &SerialTransport{PortName: portName, BaudRate: baudRate, Fallbacks: fallbacks}
}

func (t *SerialTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	mode := &serial.Mode{BaudRate: t.BaudRate}
	candidates := append([]string{t.PortName}, t.Fallbacks...)

	var lastErr error
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		port, err := serial.Open(name, mode)
		if err != nil {
			lastErr = err
			continue
		}
		if name != t.PortName {
			log.Warnf("[Finch] Port '%s' unavailable, using '%s'", t.PortName, name)
		}
		t.port = port
		log.Printf("[Finch] Opened serial port %s at %d baud", name, t.BaudRate)
		return nil
	}
	return fmt.Errorf("open serial port %s (tried %d ports): %w", t.PortName, len(candidates), lastErr)
}

func (t *SerialTransport) current() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, errNotOpen
	}
	return t.port, nil
}

func (t *SerialTransport) Write(p []byte) error {
	port, err := t.current()
	if err != nil {
		return err
	}
	_, err = port.Write(p)
	return err
}

func (t *SerialTransport) Read(p []byte) (int, error) {
	port, err := t.current()
	if err != nil {
		return 0, err
	}
	return port.Read(p)
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
