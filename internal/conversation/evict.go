package conversation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartEviction schedules EvictIdle to run every interval and starts the scheduler. The caller owns the
// returned scheduler and must shut it down.
func (r *Registry) StartEviction(maxIdle, interval time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := r.EvictIdle(maxIdle); n > 0 {
				r.logger.Info("Evicted idle conversations",
					slog.Int("count", n),
					slog.Int("remaining", r.Len()))
			}
		}),
		gocron.WithName("evict-idle-conversations"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to schedule eviction: %w", err)
	}

	s.Start()
	return s, nil
}
