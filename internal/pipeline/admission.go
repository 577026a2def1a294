package pipeline

import (
	"context"
	"time"

	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
)

// admission bounds how many requests run at once and how many may wait.
// A request first reserves a queue slot, then an execution slot; both
// waits share one deadline.
type admission struct {
	queue   chan struct{}
	slots   chan struct{}
	maxWait time.Duration
}

func newAdmission(maxConcurrent, queueDepth int, maxWait time.Duration) *admission {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &admission{
		queue:   make(chan struct{}, maxConcurrent+queueDepth),
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// enter blocks until the request may run. The returned func must be called
// once the request is done.
func (a *admission) enter(ctx context.Context) (func(), error) {
	timer := time.NewTimer(a.maxWait)
	defer timer.Stop()

	select {
	case a.queue <- struct{}{}:
	case <-ctx.Done():
		return func() {}, failure.New(failure.KindTimeout, "pipeline.admit", ctx.Err())
	case <-timer.C:
		return func() {}, failure.Newf(failure.KindTimeout, "pipeline.admit", "queue full after %s", a.maxWait)
	}

	select {
	case a.slots <- struct{}{}:
		return func() { <-a.slots; <-a.queue }, nil
	case <-ctx.Done():
		<-a.queue
		return func() {}, failure.New(failure.KindTimeout, "pipeline.admit", ctx.Err())
	case <-timer.C:
		<-a.queue
		return func() {}, failure.Newf(failure.KindTimeout, "pipeline.admit", "no free slot after %s", a.maxWait)
	}
}

// counts reports running and waiting requests.
func (a *admission) counts() (running, waiting int) {
	running = len(a.slots)
	return running, max(len(a.queue)-running, 0)
}
