package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrRunnerClosed is returned by Submit after Close.
var ErrRunnerClosed = errors.New("runner closed")

// stopWarnAfter is how long the worker waits for a canceled job before logging.
const stopWarnAfter = 2 * time.Second

// Job is a unit of device work. It must return promptly once ctx is done.
type Job func(ctx context.Context) error

type runnerCmd struct {
	name string
	job  Job
	stop bool
	// gen is non-zero when the slot was already claimed by TrySubmit.
	gen uint64
}

// Runner owns the device on behalf of one job at a time. Submitting a job cancels
// and waits for the running one first, so two jobs never overlap.
type Runner struct {
	cmds     chan runnerCmd
	finished chan struct{}
	onFinish func(name string, err error)

	sendMu sync.Mutex
	closed bool

	mu      sync.Mutex
	gen     uint64
	current string
}

// NewRunner starts the worker. onFinish, if set, is called from the job's goroutine
// after every job returns, before the slot is released.
func NewRunner(onFinish func(name string, err error)) *Runner {
	r := &Runner{
		cmds:     make(chan runnerCmd, 10),
		finished: make(chan struct{}),
		onFinish: onFinish,
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.finished)

	var cancel context.CancelFunc
	var done chan struct{}

	stopCurrent := func() {
		if cancel == nil {
			return
		}
		cancel()
		select {
		case <-done:
		case <-time.After(stopWarnAfter):
			log.Warnf("[Runner] Job '%s' is slow to stop, still waiting", r.Running())
			<-done
		}
		cancel = nil
		done = nil
	}

	for cmd := range r.cmds {
		stopCurrent()
		if cmd.stop {
			continue
		}

		ctx, c := context.WithCancel(context.Background())
		cancel = c
		done = make(chan struct{})
		gen := cmd.gen
		if gen == 0 {
			gen = r.setCurrent(cmd.name)
		}

		go func(cmd runnerCmd, ctx context.Context, gen uint64, done chan struct{}) {
			defer close(done)
			log.Printf("[Runner] Starting '%s'...", cmd.name)
			err := cmd.job(ctx)
			switch {
			case err == nil:
				log.Printf("[Runner] '%s' finished.", cmd.name)
			case errors.Is(err, context.Canceled):
				log.Printf("[Runner] '%s' was canceled.", cmd.name)
			default:
				log.Errorf("[Runner] '%s' failed: %v", cmd.name, err)
			}
			// The slot stays claimed until onFinish returns, so the next job's
			// start is never reported before this one's end.
			if r.onFinish != nil && r.isCurrent(gen) {
				r.onFinish(cmd.name, err)
			}
			r.clearCurrent(gen)
		}(cmd, ctx, gen, done)
	}
	stopCurrent()
}

func (r *Runner) setCurrent(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.current = name
	return r.gen
}

func (r *Runner) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

func (r *Runner) clearCurrent(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.current = ""
	}
}

// Running returns the name of the job in progress, or "".
func (r *Runner) Running() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Submit queues job under name, replacing whatever is running.
func (r *Runner) Submit(name string, job Job) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	r.cmds <- runnerCmd{name: name, job: job}
	return nil
}

// TrySubmit claims the slot for name before queueing job and fails with ErrBusy
// while another job holds it. Unlike Submit it never replaces a running job.
func (r *Runner) TrySubmit(name string, job Job) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}

	r.mu.Lock()
	if r.current != "" {
		running := r.current
		r.mu.Unlock()
		return fmt.Errorf("%w: '%s' in progress", ErrBusy, running)
	}
	r.gen++
	r.current = name
	gen := r.gen
	r.mu.Unlock()

	r.cmds <- runnerCmd{name: name, job: job, gen: gen}
	return nil
}

// Stop cancels the running job, if any.
func (r *Runner) Stop() {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.cmds <- runnerCmd{stop: true}:
	default:
		log.Warn("[Runner] Command queue full, could not send stop")
	}
}

// Close cancels the running job and stops the worker.
func (r *Runner) Close() {
	r.sendMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.cmds)
	}
	r.sendMu.Unlock()
	<-r.finished
}
