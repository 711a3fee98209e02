// Package scheduler runs the multi-queue admission loop: it wakes on a
// fixed tick and on every non-progress bus event, honors each queue's
// active-window schedule and concurrency cap plus the process-wide
// concurrency cap, and admits queued downloads by priority, FIFO within a
// priority. It also fires a queue's post-completion action once that
// queue drains.
package scheduler

import (
	"context"
	"log"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

// defaultTick is well above the 4Hz floor the admission loop must meet so
// a freshly-queued download or a newly opened schedule window is picked
// up within a quarter second.
const defaultTick = 200 * time.Millisecond

// Scheduler is the active-object loop driving queue admission: a
// fixed-rate tick rather than a cron min-heap, since nothing here needs
// sub-scheduling finer than "is this queue's window open right now".
type Scheduler struct {
	mgr  *dlcore.Manager
	tick time.Duration
	log  *log.Logger

	mu     sync.Mutex
	fired  map[string]bool // queue id -> post-action already fired for current drain
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler bound to mgr. Call Start to begin ticking.
func New(mgr *dlcore.Manager, logger *log.Logger) *Scheduler {
	return &Scheduler{mgr: mgr, tick: defaultTick, log: logger, fired: make(map[string]bool)}
}

// Start launches the background ticking goroutine. It is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	events, unsubscribe := s.mgr.Bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.admit(ctx)
		case ev := <-events:
			if ev.Kind != dlcore.EventProgress {
				s.admit(ctx)
			}
		}
	}
}

// admit is one scheduling pass: for every queue whose schedule window is
// open, start as many eligible downloads (in sortPending order) as its
// remaining concurrency (and the global cap) allow.
func (s *Scheduler) admit(ctx context.Context) {
	settings := s.mgr.Settings()
	all := s.mgr.List()

	globalRunning := 0
	for _, d := range all {
		if d.Status == dlcore.StatusDownloading {
			globalRunning++
		}
	}
	globalCap := settings.MaxConcurrentDownloads
	if globalCap <= 0 {
		globalCap = len(all) + 1 // effectively unlimited
	}

	byQueue := make(map[string][]*dlcore.Download)
	for _, d := range all {
		byQueue[d.QueueID] = append(byQueue[d.QueueID], d)
	}

	for _, q := range s.mgr.Queues() {
		members := byQueue[q.ID]
		s.handleQueue(ctx, q, members, globalCap, &globalRunning)
	}
}

func isTerminal(st dlcore.Status) bool {
	return st == dlcore.StatusCompleted || st == dlcore.StatusFailed || st == dlcore.StatusCancelled
}

// sortPending orders admission candidates by priority (high before normal
// before low), then FIFO by CreatedAt within the same priority.
func sortPending(pending []*dlcore.Download) {
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority.Less(pending[j].Priority)
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
}

func (s *Scheduler) handleQueue(ctx context.Context, q *dlcore.Queue, members []*dlcore.Download, globalCap int, globalRunning *int) {
	active := !q.Paused && (q.Schedule == nil || q.Schedule.Active(time.Now()))

	running := 0
	var pending []*dlcore.Download
	allTerminal := len(members) > 0
	anyCompleted := false
	for _, d := range members {
		switch d.Status {
		case dlcore.StatusDownloading:
			running++
		case dlcore.StatusQueued, dlcore.StatusPending:
			pending = append(pending, d)
		}
		if !isTerminal(d.Status) {
			allTerminal = false
		}
		if d.Status == dlcore.StatusCompleted {
			anyCompleted = true
		}
		if !active && d.Status == dlcore.StatusDownloading {
			if err := s.mgr.Pause(d.ID); err != nil && s.log != nil {
				s.log.Printf("scheduler: pause %s for closed window on queue %s: %v", d.ID, q.ID, err)
			}
			running--
		}
	}

	if active {
		sortPending(pending)

		queueCap := q.MaxConcurrent
		if queueCap <= 0 {
			queueCap = len(members) + 1
		}

		for _, d := range pending {
			if running >= queueCap || *globalRunning >= globalCap {
				break
			}
			if err := s.mgr.Start(ctx, d.ID); err != nil {
				if s.log != nil {
					s.log.Printf("scheduler: start %s: %v", d.ID, err)
				}
				continue
			}
			running++
			*globalRunning++
		}
	}

	s.maybeFirePostAction(q, allTerminal && anyCompleted)
}

// maybeFirePostAction runs q's post-completion action the first time every
// download in q is terminal and at least one of them is completed,
// resetting once a non-terminal download reappears. A download that
// completed before an earlier fire still counts toward the next one.
func (s *Scheduler) maybeFirePostAction(q *dlcore.Queue, drained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !drained {
		delete(s.fired, q.ID)
		return
	}
	if s.fired[q.ID] {
		return
	}
	s.fired[q.ID] = true
	s.runPostAction(q)
}

func (s *Scheduler) runPostAction(q *dlcore.Queue) {
	switch q.PostAction.Kind {
	case dlcore.PostActionNone, "":
		return
	case dlcore.PostActionRunCommand:
		if q.PostAction.Command == "" {
			return
		}
		cmd := exec.Command("sh", "-c", q.PostAction.Command)
		if err := cmd.Start(); err != nil {
			if s.log != nil {
				s.log.Printf("scheduler: post-action command for queue %s: %v", q.ID, err)
			}
			return
		}
		go func() {
			if err := cmd.Wait(); err != nil && s.log != nil {
				s.log.Printf("scheduler: post-action command for queue %s exited: %v", q.ID, err)
			}
		}()
	case dlcore.PostActionNotify:
		if s.log != nil {
			s.log.Printf("scheduler: queue %s drained, notify requested", q.ID)
		}
	case dlcore.PostActionSleep, dlcore.PostActionShutdown, dlcore.PostActionHibernate:
		// OS-dependent power actions; no OS hook is invoked, the request
		// is only logged.
		if s.log != nil {
			s.log.Printf("scheduler: queue %s drained, power action %q requested", q.ID, q.PostAction.Kind)
		}
	}
}
