package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/receiptsearch/internal/sweeper"
)

// SweepWorker runs the reconciliation sweeper when the periodic sweep task
// fires. The sweeper itself is idempotent, so overlapping runs are safe.
type SweepWorker struct {
	sweeper *sweeper.Sweeper
}

func NewSweepWorker(s *sweeper.Sweeper) *SweepWorker {
	return &SweepWorker{sweeper: s}
}

func (w *SweepWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if _, err := w.sweeper.Run(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}
