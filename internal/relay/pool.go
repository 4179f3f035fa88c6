package relay

import (
	"context"
	"sync"
)

// Pool runs keyed tasks with bounded concurrency. A key can be in flight at
// most once. OnChange, when set, is called with the new in-flight count
// after every start and finish.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}

	OnChange func(n int)
}

// NewPool returns a pool running at most size tasks at once.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:      make(chan struct{}, size),
		inFlight: make(map[string]struct{}),
	}
}

// TryGo starts task under key if a slot is free and key is not already in
// flight. It never blocks.
func (p *Pool) TryGo(key string, task func()) bool {
	if !p.reserve(key) {
		return false
	}
	select {
	case p.sem <- struct{}{}:
	default:
		p.release(key)
		return false
	}
	p.start(key, task)
	return true
}

// Go starts task under key, waiting for a free slot. It returns false
// without running task when key is already in flight or ctx ends first.
func (p *Pool) Go(ctx context.Context, key string, task func()) bool {
	if !p.reserve(key) {
		return false
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(key)
		return false
	}
	p.start(key, task)
	return true
}

// InFlight reports whether key is running.
func (p *Pool) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[key]
	return ok
}

// Len returns the number of running tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// Full reports whether every slot is taken.
func (p *Pool) Full() bool {
	return len(p.sem) == cap(p.sem)
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) reserve(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[key]; ok {
		return false
	}
	p.inFlight[key] = struct{}{}
	return true
}

func (p *Pool) release(key string) {
	p.mu.Lock()
	delete(p.inFlight, key)
	n := len(p.inFlight)
	p.mu.Unlock()
	if p.OnChange != nil {
		p.OnChange(n)
	}
}

func (p *Pool) start(key string, task func()) {
	p.wg.Add(1)
	if p.OnChange != nil {
		p.OnChange(p.Len())
	}
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer p.release(key)
		task()
	}()
}
