package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Background runs fire-and-forget work on a fixed pool of goroutines.
// Failures are logged and dropped; nothing is retried.
type Background struct {
	tasks   chan task
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

func NewBackground(workers, backlog int, timeout time.Duration, log zerolog.Logger) *Background {
	if workers <= 0 {
		workers = 2
	}
	if backlog <= 0 {
		backlog = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b := &Background{
		tasks:   make(chan task, backlog),
		timeout: timeout,
		log:     log.With().Str("component", "background").Logger(),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.run()
	}
	return b
}

func (b *Background) run() {
	defer b.wg.Done()
	for t := range b.tasks {
		b.exec(t)
	}
}

func (b *Background) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("task", t.name).Msg("background task panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := t.fn(ctx); err != nil {
		b.log.Warn().Err(err).Str("task", t.name).Msg("background task failed")
	}
}

// Submit queues fn without blocking. It returns false when the backlog is
// full or the executor is closed, in which case fn never runs.
func (b *Background) Submit(name string, fn func(ctx context.Context) error) (ok bool) {
	defer func() {
		// send on closed channel
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case b.tasks <- task{name: name, fn: fn}:
		return true
	default:
		b.log.Warn().Str("task", name).Msg("background backlog full, dropping task")
		return false
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (b *Background) Close() {
	b.once.Do(func() { close(b.tasks) })
	b.wg.Wait()
}
