package connector

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Reactor is the background worker that runs every stack operation of a
// Connector. Callers hand work to it with Run and block until it is done.
type Reactor struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// group tracks running tasks so Close can wait for them. Task errors
	// are handed to the Run caller, never to the group.
	group     errgroup.Group
	closeOnce sync.Once
}

// NewReactor starts a reactor. It must be released with Close.
func NewReactor() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reactor{
		tasks:  make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

func (r *Reactor) loop() {
	defer close(r.done)
	for {
		select {
		case task := <-r.tasks:
			r.group.Go(func() error {
				task()
				return nil
			})
		case <-r.quit:
			r.group.Wait()
			return
		}
	}
}

// Run executes fn on the reactor and waits for its result. The context
// passed to fn is cancelled when ctx is, or when the reactor closes.
func (r *Reactor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	res := make(chan error, 1)
	task := func() {
		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(r.ctx, cancel)
		defer stop()
		res <- fn(taskCtx)
	}

	select {
	case r.tasks <- task:
	case <-r.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels running tasks and waits for them and the worker to exit.
// Tasks blocked in calls that ignore their context delay Close until those
// calls return.
func (r *Reactor) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		close(r.quit)
	})
	<-r.done
}

// Done is closed once the worker has exited.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}
