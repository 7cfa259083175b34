// Package finch drives a Finch robot over a serial or BLE link.
package finch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"finch-controller/internal/device"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Transport is a byte link to the robot.
type Transport interface {
	Open(ctx context.Context) error
	Write(p []byte) error
	Read(p []byte) (int, error)
	Close() error
}

// Options tune a Controller.
type Options struct {
	ResponseTimeout time.Duration
	RateLimit       float64
	RateBurst       int
}

// Controller implements device.Device on top of a Transport.
type Controller struct {
	transport       Transport
	limiter         *rate.Limiter
	responseTimeout time.Duration

	// mu serializes a frame and its response on the link.
	mu        sync.Mutex
	connected atomic.Bool

	ctxMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	statusMu       sync.Mutex
	onStatusChange func(connected bool)
}

var _ device.Device = (*Controller)(nil)

// NewController creates a disconnected controller.
func NewController(t Transport, opts Options) *Controller {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &Controller{
		transport:       t,
		limiter:         rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		responseTimeout: opts.ResponseTimeout,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// OnStatusChange registers a callback fired when the connection opens or drops.
func (c *Controller) OnStatusChange(fn func(connected bool)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.onStatusChange = fn
}

func (c *Controller) notify(connected bool) {
	c.statusMu.Lock()
	fn := c.onStatusChange
	c.statusMu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// Connect opens the link and resets the LED and buzzer.
func (c *Controller) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	log.Println("[Finch] Connecting...")
	if err := c.transport.Open(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.ctxMu.Lock()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.ctxMu.Unlock()
	c.connected.Store(true)

	if err := c.SetLED(0, 0, 0); err != nil {
		return fmt.Errorf("reset LED: %w", err)
	}
	if err := c.NoteOff(); err != nil {
		return fmt.Errorf("reset buzzer: %w", err)
	}

	log.Println("[Finch] Robot is ready.")
	c.notify(true)
	return nil
}

// Disconnect resets the robot and closes the link.
func (c *Controller) Disconnect() error {
	if !c.connected.Load() {
		return nil
	}
	if err := c.Idle(); err != nil {
		log.Warnf("[Finch] Idle before disconnect failed: %v", err)
	}
	if err := c.write(resetFrame()); err != nil {
		log.Warnf("[Finch] Reset before disconnect failed: %v", err)
	}
	c.drop()
	log.Println("[Finch] Disconnected.")
	return nil
}

// drop marks the link closed and releases the transport.
func (c *Controller) drop() {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	c.ctxMu.Lock()
	c.cancel()
	c.ctxMu.Unlock()
	if err := c.transport.Close(); err != nil {
		log.Warnf("[Finch] Close warning: %v", err)
	}
	c.notify(false)
}

func (c *Controller) IsConnected() bool {
	return c.connected.Load()
}

func (c *Controller) linkContext() context.Context {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()
	return c.ctx
}

// write sends one frame, honoring the rate limit.
func (c *Controller) write(f []byte) error {
	if !c.connected.Load() {
		return device.ErrUnavailable
	}
	if err := c.limiter.Wait(c.linkContext()); err != nil {
		return device.ErrUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transport.Write(f); err != nil {
		log.Errorf("[Finch] Write failed (assuming disconnected): %v", err)
		go c.drop()
		return fmt.Errorf("write %q frame: %w", f[1], err)
	}
	return nil
}

// query sends a frame and reads n response bytes within the response timeout.
func (c *Controller) query(f []byte, n int) ([]byte, error) {
	if !c.connected.Load() {
		return nil, device.ErrUnavailable
	}
	if err := c.limiter.Wait(c.linkContext()); err != nil {
		return nil, device.ErrUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.Write(f); err != nil {
		go c.drop()
		return nil, fmt.Errorf("write %q frame: %w", f[1], err)
	}

	type result struct {
		buf []byte
		err error
	}
	resChan := make(chan result, 1)
	go func() {
		buf := make([]byte, n)
		_, err := io.ReadFull(readerFunc(c.transport.Read), buf)
		resChan <- result{buf, err}
	}()

	select {
	case res := <-resChan:
		if res.err != nil {
			go c.drop()
			return nil, fmt.Errorf("read %q response: %w", f[1], res.err)
		}
		return res.buf, nil
	case <-time.After(c.responseTimeout):
		log.Errorf("[Finch] No response to %q within %s", f[1], c.responseTimeout)
		go c.drop()
		return nil, fmt.Errorf("read %q response: %w", f[1], context.DeadlineExceeded)
	}
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func (c *Controller) SetMotors(left, right int) error {
	return c.write(motorFrame(left, right))
}

func (c *Controller) SetLED(r, g, b int) error {
	return c.write(ledFrame(r, g, b))
}

func (c *Controller) NoteOn(frequencyHz int) error {
	return c.write(buzzerFrame(noteHoldMs, frequencyHz))
}

func (c *Controller) NoteOff() error {
	return c.write(buzzerFrame(0, 0))
}

// Idle releases the motors and LED to the firmware's idle animation.
func (c *Controller) Idle() error {
	return c.write(idleFrame())
}

func (c *Controller) Temperature() (float64, error) {
	buf, err := c.query(temperatureFrame(), 1)
	if err != nil {
		return 0, err
	}
	return celsius(buf[0]), nil
}

func (c *Controller) LeftLightSensor() (int, error) {
	l, _, err := c.lights()
	return l, err
}

func (c *Controller) RightLightSensor() (int, error) {
	_, r, err := c.lights()
	return r, err
}

func (c *Controller) lights() (int, int, error) {
	buf, err := c.query(lightFrame(), 2)
	if err != nil {
		return 0, 0, err
	}
	return int(buf[0]), int(buf[1]), nil
}

// Sleep blocks for ms milliseconds, waking early if ctx is done. The robot keeps
// its last state meanwhile.
func (c *Controller) Sleep(ctx context.Context, ms int) error {
	if ms <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
