package services

import (
	"context"
	"sync"
)

// Func adapts start and stop functions into a ManagedService. A nil StopFunc
// makes Stop a no-op.
type Func struct {
	ServiceName string
	Deps        []string
	StartFunc   func(ctx context.Context) error
	StopFunc    func(ctx context.Context) error
}

func (f *Func) Name() string           { return f.ServiceName }
func (f *Func) Dependencies() []string { return f.Deps }

func (f *Func) Start(ctx context.Context) error { return f.StartFunc(ctx) }

func (f *Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

// Background adapts a component that runs for as long as the context handed to
// start stays alive. That context outlives the start timeout and is cancelled by
// Stop.
func Background(name string, deps []string, start func(ctx context.Context) error) ManagedService {
	b := &background{}
	return &Func{
		ServiceName: name,
		Deps:        deps,
		StartFunc: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			b.set(cancel)
			if err := start(runCtx); err != nil {
				cancel()
				return err
			}
			return nil
		},
		StopFunc: func(context.Context) error {
			b.cancel()
			return nil
		},
	}
}

type background struct {
	mu   sync.Mutex
	stop context.CancelFunc
}

func (b *background) set(c context.CancelFunc) {
	b.mu.Lock()
	b.stop = c
	b.mu.Unlock()
}

func (b *background) cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
}
