// Package routine runs Lua routines (the talent show) against a device.
package routine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finch-controller/internal/device"
	"finch-controller/internal/metrics"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Engine loads routines from the built-in set and a user directory.
// Each run gets a fresh Lua state.
type Engine struct {
	store *Store
}

// NewEngine creates an engine backed by routinesDir for user routines.
func NewEngine(routinesDir string) *Engine {
	return &Engine{store: NewStore(routinesDir)}
}

// Store gives access to routine sources.
func (e *Engine) Store() *Store {
	return e.store
}

// Run executes the named routine until it returns or ctx is done.
func (e *Engine) Run(ctx context.Context, name string, dev device.Device) error {
	code, err := e.store.Code(name)
	if err != nil {
		return err
	}
	return e.RunString(ctx, name, code, dev)
}

// RunString executes code under name.
func (e *Engine) RunString(ctx context.Context, name, code string, dev device.Device) error {
	if dev == nil || !dev.IsConnected() {
		return device.ErrUnavailable
	}

	start := time.Now()
	err := e.execute(ctx, name, code, dev)

	outcome := "completed"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "failed"
	}
	metrics.Runs.WithLabelValues("routine", outcome).Inc()
	metrics.RunDuration.WithLabelValues("routine").Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) execute(ctx context.Context, name, code string, dev device.Device) error {
	log.Printf("[Lua] Starting routine '%s'...", name)
	defer log.Printf("[Lua] Routine '%s' finished.", name)

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	registerFunctions(L, ctx, dev)

	if err := L.DoString(code); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("routine %s: %w", name, ctx.Err())
		}
		return fmt.Errorf("routine %s: %w", name, err)
	}
	return ctx.Err()
}

// Check compiles code without running it.
func Check(code string) error {
	L := lua.NewState()
	defer L.Close()
	if _, err := L.LoadString(code); err != nil {
		return err
	}
	return nil
}
