package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Pool manages a pool of reusable runtimes and a cache of compiled expressions
type Pool struct {
	config   Config
	runtimes chan *Runtime
	programs sync.Map // expression -> *goja.Program
	size     int
	mu       sync.RWMutex
	closed   bool
}

// NewPool creates a runtime pool
func NewPool(config Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = DefaultConfig().AcquireTimeout
	}

	pool := &Pool{
		config:   config,
		runtimes: make(chan *Runtime, size),
		size:     size,
	}

	for i := 0; i < size; i++ {
		rt, err := New(config)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.runtimes <- rt
	}

	return pool, nil
}

// Compile parses expr once and caches the program
func (p *Pool) Compile(expr string) (*goja.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmpty
	}
	if p.config.MaxExprLength > 0 && len(expr) > p.config.MaxExprLength {
		return nil, fmt.Errorf("expression exceeds %d characters", p.config.MaxExprLength)
	}

	if prog, ok := p.programs.Load(expr); ok {
		return prog.(*goja.Program), nil
	}

	prog, err := goja.Compile("expr", "("+expr+")", true)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	actual, _ := p.programs.LoadOrStore(expr, prog)
	return actual.(*goja.Program), nil
}

// Acquire gets a runtime from the pool
func (p *Pool) Acquire(ctx context.Context) (*Runtime, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case rt, ok := <-p.runtimes:
		if !ok {
			return nil, ErrPoolClosed
		}
		return rt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Release returns a runtime to the pool. A runtime that failed is replaced.
func (p *Pool) Release(rt *Runtime, failed bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		rt.Close()
		return
	}

	if failed {
		if err := rt.Reset(); err != nil {
			rt.Close()
			replacement, err := New(p.config)
			if err != nil {
				return
			}
			rt = replacement
		}
	}

	select {
	case p.runtimes <- rt:
	default:
		rt.Close()
	}
}

// Eval compiles (or reuses) expr and evaluates it on a pooled runtime
func (p *Pool) Eval(ctx context.Context, expr string, scope Scope) (any, error) {
	prog, err := p.Compile(expr)
	if err != nil {
		return nil, err
	}

	rt, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	v, err := rt.Eval(ctx, prog, scope)
	p.Release(rt, err != nil)
	return v, err
}

// EvalBool evaluates expr and applies JavaScript truthiness
func (p *Pool) EvalBool(ctx context.Context, expr string, scope Scope) (bool, error) {
	prog, err := p.Compile(expr)
	if err != nil {
		return false, err
	}

	rt, err := p.Acquire(ctx)
	if err != nil {
		return false, err
	}

	v, err := rt.EvalBool(ctx, prog, scope)
	p.Release(rt, err != nil)
	return v, err
}

// Close closes the pool and all runtimes
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.runtimes)
	for rt := range p.runtimes {
		rt.Close()
	}
	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]any{
		"size":      p.size,
		"available": len(p.runtimes),
		"in_use":    p.size - len(p.runtimes),
		"closed":    p.closed,
	}
}
