package wire

import (
	"context"
	"sync"
)

// loop runs functions one at a time, in the order they were queued, on a single goroutine.
// The queue is unbounded so that queued functions may queue more without deadlocking.
type loop struct {
	mut   sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
}

func newLoop() *loop {
	return &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *loop) do(f func()) {
	l.mut.Lock()
	l.queue = append(l.queue, f)
	l.mut.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) next() []func() {
	l.mut.Lock()
	defer l.mut.Unlock()
	fs := l.queue
	l.queue = nil
	return fs
}

// run processes the queue until ctx is done. Whatever was queued before that is still run.
func (l *loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		fs := l.next()
		for _, f := range fs {
			f()
		}
		if len(fs) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			for fs := l.next(); len(fs) > 0; fs = l.next() {
				for _, f := range fs {
					f()
				}
			}
			return
		}
	}
}
