package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Warmer is a collection whose caches can be refreshed ahead of requests.
type Warmer interface {
	Name() string
	Warm(ctx context.Context) error
}

// Scheduler periodically re-warms the catalog and parameter caches.
type Scheduler struct {
	scheduler *gocron.Scheduler
	warmers   []Warmer
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler. A zero interval disables warming.
func New(warmers []Warmer, interval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		warmers:   warmers,
		interval:  interval,
		timeout:   5 * time.Minute,
	}
}

// Start schedules the warming job and starts the underlying scheduler.
// The first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.warmers) == 0 || s.interval <= 0 {
		log.Println("scheduler: cache warming disabled; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 1
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce warms every collection concurrently and waits for all of them.
func (s *Scheduler) RunOnce() {
	log.Println("scheduler: running cache warm job")

	var wg sync.WaitGroup
	for _, w := range s.warmers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()

			if err := w.Warm(ctx); err != nil {
				log.Printf("scheduler: warm failed for %s: %v", w.Name(), err)
			}
		}()
	}
	wg.Wait()
	log.Println("scheduler: completed cache warm job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
