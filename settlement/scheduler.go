package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultScanInterval is how often the scheduler looks for expired questions.
// A tunable, not a contract: a shorter interval only makes retries sooner.
const DefaultScanInterval = 60 * time.Second

// Scheduler periodically scans for expired, unsettled questions and drives
// each through the settlement engine. Questions in one scan are processed
// concurrently with each other, but never two attempts for the same question
// at once: an in-flight set serializes per question across overlapping scans.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *logrus.Logger

	mu       sync.Mutex
	inFlight map[int64]struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler around the engine. A non-positive interval
// falls back to DefaultScanInterval.
func NewScheduler(engine *Engine, interval time.Duration, log *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		log:      log,
		inFlight: make(map[int64]struct{}),
	}
}

// Start runs the scan loop until ctx is cancelled, then waits for in-flight
// settlement attempts to finish.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval.String()).Info("settlement scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("settlement scheduler stopped")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one discovery pass. Each discovered question settles in its own
// goroutine; one question's failure never blocks or delays the others.
func (s *Scheduler) Scan(ctx context.Context) {
	questions, err := s.engine.FindExpired(time.Now())
	if err != nil {
		s.log.WithError(err).Error("settlement scan failed")
		return
	}
	if len(questions) == 0 {
		return
	}

	s.log.WithField("expired", len(questions)).Debug("settlement scan")

	for i := range questions {
		question := questions[i]
		if !s.acquire(question.ID) {
			// Still settling from a previous scan
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release(question.ID)
			if err := s.engine.SettleQuestion(ctx, &question); err != nil && !errors.Is(err, ErrAlreadySettled) {
				// Settlement errors never reach users; the question stays
				// unsettled and the next scan retries it.
				s.log.WithField("question_id", question.ID).WithError(err).Warn("settlement attempt failed")
			}
		}()
	}
}

// Wait blocks until all in-flight settlement attempts complete. Test helper.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) acquire(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
