// Package scheduler runs periodic housekeeping jobs such as the device heartbeat
// and telemetry snapshots. Programs are never started from here.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Entry describes a registered job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

type job struct {
	id   cron.EntryID
	spec string
}

// Scheduler manages named cron jobs.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.RWMutex
	jobs map[string]job
}

// New creates a stopped scheduler. A job still running when its next tick comes
// is skipped, and panics are recovered and logged.
func New() *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		jobs: make(map[string]job),
	}
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("[Scheduler] Started.")
}

// Stop halts the ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[Scheduler] Stopped.")
}

// Add registers fn under name. A job with the same name is replaced.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() {
		log.Debugf("[Scheduler] Running job '%s'", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("invalid schedule '%s' for job '%s': %w", spec, name, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	s.jobs[name] = job{id: id, spec: spec}
	log.Printf("[Scheduler] Added job '%s' (%s)", name, spec)
	return nil
}

// Remove deletes the named job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.id)
		delete(s.jobs, name)
		log.Printf("[Scheduler] Removed job '%s'", name)
	}
}

// List returns the registered jobs sorted by name.
func (s *Scheduler) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.jobs))
	for name, j := range s.jobs {
		entries = append(entries, Entry{Name: name, Spec: j.spec, Next: s.cron.Entry(j.id).Next})
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Name < entries[k].Name })
	return entries
}
