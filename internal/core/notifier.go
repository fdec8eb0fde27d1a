package core

import (
	"context"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// Notifier receives job state changes. Publishing is best effort; a failing
// notifier never affects the job.
type Notifier interface {
	Publish(ctx context.Context, ev model.JobEvent)
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, model.JobEvent) {}
