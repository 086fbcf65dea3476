package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is one scheduler pass for a room.
type TickFunc func(ctx context.Context, roomID int64)

// Scheduler runs one recurring timer per active room on a bounded worker
// pool. Timer goroutines only enqueue; the pool executes, so a slow tick in
// one room cannot starve the timers of others. Trigger enqueues an
// out-of-band pass for the early-advance path.
type Scheduler struct {
	interval time.Duration
	delay    time.Duration
	tick     TickFunc
	log      zerolog.Logger

	jobs   chan int64
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	rooms map[int64]chan struct{}
}

func NewScheduler(workers int, interval, delay time.Duration, tick TickFunc, log zerolog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		interval: interval,
		delay:    delay,
		tick:     tick,
		log:      log,
		jobs:     make(chan int64, workers*4),
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[int64]chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case roomID := <-s.jobs:
			s.runTick(roomID)
		}
	}
}

func (s *Scheduler) runTick(roomID int64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Int64("room", roomID).Msg("tick panicked")
		}
	}()
	s.tick(s.ctx, roomID)
}

// Register starts the room's timer: first pass after the start delay, then
// one per interval. Registering an already registered room is a no-op.
func (s *Scheduler) Register(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		return
	}
	stop := make(chan struct{})
	s.rooms[roomID] = stop
	go s.run(roomID, stop)
}

func (s *Scheduler) run(roomID int64, stop <-chan struct{}) {
	first := time.NewTimer(s.delay)
	defer first.Stop()
	select {
	case <-first.C:
	case <-stop:
		return
	case <-s.ctx.Done():
		return
	}
	s.enqueue(roomID)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.enqueue(roomID)
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Trigger enqueues an immediate pass without waiting for the timer.
func (s *Scheduler) Trigger(roomID int64) {
	s.enqueue(roomID)
}

func (s *Scheduler) enqueue(roomID int64) {
	select {
	case s.jobs <- roomID:
	case <-s.ctx.Done():
	default:
		// Queue full: drop, the room's next timer fire retries.
		s.log.Warn().Int64("room", roomID).Msg("tick queue full, pass dropped")
	}
}

// Cancel stops the room's timer. Queued passes may still run; the tick body
// re-checks room status under the lock.
func (s *Scheduler) Cancel(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.rooms[roomID]; ok {
		close(stop)
		delete(s.rooms, roomID)
	}
}

// Active reports whether the room currently has a timer.
func (s *Scheduler) Active(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Close stops all timers and waits for the workers to drain.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for id, stop := range s.rooms {
		close(stop)
		delete(s.rooms, id)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
