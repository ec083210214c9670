// Package reaper runs the periodic idle-table sweep against the lobby.
package reaper

import (
	"context"
	"log"
	"sync"
	"time"

	"pokerhall/internal/lobby"
)

const DefaultInterval = 30 * time.Second

// Result summarizes one sweep.
type Result struct {
	Deleted []lobby.DeletedTable `json:"deleted"`
	RanAt   time.Time            `json:"ran_at"`
}

// Reaper owns the background sweeper goroutine. Manual triggers and the
// timer share one mutex so at most one sweep runs at a time.
type Reaper struct {
	lobby    *lobby.Lobby
	interval time.Duration

	scanMu sync.Mutex

	mu           sync.Mutex
	running      bool
	stop         chan struct{}
	done         chan struct{}
	startedAt    time.Time
	lastRun      time.Time
	lastTimerRun time.Time
	sweeps       uint64
	lastSize     int
	totalDeleted uint64
}

func New(l *lobby.Lobby, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{lobby: l, interval: interval}
}

// Start launches the sweep loop: one immediate pass, then one per interval.
// Starting a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.startedAt = time.Now()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	log.Printf("[Reaper] starting, interval=%s idle_timeout=%s", r.interval, r.lobby.IdleTimeout())
	go r.loop(ctx, stop, done)
}

func (r *Reaper) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	r.sweep(ctx, true)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep(ctx, true)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	<-done
	log.Printf("[Reaper] stopped")
}

// sweep runs one pass. The timer flag marks ticker-driven passes; manual
// sweeps do not reset the timer schedule that NextRunIn reports.
func (r *Reaper) sweep(ctx context.Context, timer bool) Result {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	now := time.Now()
	deleted := r.lobby.ReapIdle(ctx, now)

	r.mu.Lock()
	r.lastRun = now
	if timer {
		r.lastTimerRun = now
	}
	r.sweeps++
	r.lastSize = len(deleted)
	r.totalDeleted += uint64(len(deleted))
	r.mu.Unlock()

	if len(deleted) > 0 {
		log.Printf("[Reaper] sweep removed %d idle tables", len(deleted))
	}
	return Result{Deleted: deleted, RanAt: now}
}

// ManualTrigger runs a sweep immediately, serialized against the timer.
func (r *Reaper) ManualTrigger(ctx context.Context) Result {
	return r.sweep(ctx, false)
}

// Status is the admin-facing view of the sweeper.
type Status struct {
	Running      bool          `json:"running"`
	Interval     time.Duration `json:"interval"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Uptime       time.Duration `json:"uptime"`
	LastRun      time.Time     `json:"last_run"`
	NextRunIn    time.Duration `json:"next_run_in"`
	Sweeps       uint64        `json:"sweeps"`
	LastDeleted  int           `json:"last_deleted"`
	TotalDeleted uint64        `json:"total_deleted"`
}

func (r *Reaper) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	status := Status{
		Running:      r.running,
		Interval:     r.interval,
		IdleTimeout:  r.lobby.IdleTimeout(),
		LastRun:      r.lastRun,
		Sweeps:       r.sweeps,
		LastDeleted:  r.lastSize,
		TotalDeleted: r.totalDeleted,
	}
	if r.running {
		status.Uptime = now.Sub(r.startedAt)
		if !r.lastTimerRun.IsZero() {
			if remaining := r.interval - now.Sub(r.lastTimerRun); remaining > 0 {
				status.NextRunIn = remaining
			}
		}
	}
	return status
}
