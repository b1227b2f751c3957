package inference

import (
	"context"
	"time"

	"agridetect/internal/models"
)

// Observer receives the latency and outcome of each diagnosis.
type Observer interface {
	ObserveInference(provider string, took time.Duration, err error)
}

type instrumented struct {
	next Inferencer
	obs  Observer
}

// WithObserver wraps an Inferencer so every call is reported to obs.
func WithObserver(next Inferencer, obs Observer) Inferencer {
	if obs == nil {
		return next
	}
	return &instrumented{next: next, obs: obs}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Diagnose(ctx context.Context, img Image) (*models.Diagnosis, error) {
	start := time.Now()
	d, err := i.next.Diagnose(ctx, img)
	i.obs.ObserveInference(i.next.Name(), time.Since(start), err)
	return d, err
}
