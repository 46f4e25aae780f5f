package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Runtime wraps a goja VM with an execution budget
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex
}

// New creates a new sandboxed runtime
func New(config Config) (*Runtime, error) {
	r := &Runtime{config: config}
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Eval runs a compiled program with scope installed as globals.
// Scope globals are removed again before Eval returns.
func (r *Runtime) Eval(ctx context.Context, prog *goja.Program, scope Scope) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, fmt.Errorf("runtime closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for name, value := range scope {
		if err := r.vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	defer func() {
		global := r.vm.GlobalObject()
		for name := range scope {
			_ = global.Delete(name)
		}
	}()

	timer := time.AfterFunc(r.config.Timeout, func() {
		r.vm.Interrupt("execution timeout exceeded")
	})
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt("context cancelled")
	})
	defer func() {
		timer.Stop()
		stop()
		r.vm.ClearInterrupt()
	}()

	val, err := r.vm.RunProgram(prog)
	if err != nil {
		var interrupted *goja.InterruptedError
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if ok := asInterrupted(err, &interrupted); ok {
			return nil, fmt.Errorf("expression interrupted: %v", interrupted.Value())
		}
		return nil, err
	}
	return exportValue(val), nil
}

// EvalBool runs prog and converts the result with JavaScript truthiness
func (r *Runtime) EvalBool(ctx context.Context, prog *goja.Program, scope Scope) (bool, error) {
	v, err := r.Eval(ctx, prog, scope)
	if err != nil {
		return false, err
	}
	return r.truthy(v), nil
}

func (r *Runtime) truthy(v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vm == nil {
		return false
	}
	return r.vm.ToValue(v).ToBoolean()
}

// setupGlobals strips host escape hatches
func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports", "setTimeout", "setInterval", "eval", "Function"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	return nil
}

func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

func asInterrupted(err error, target **goja.InterruptedError) bool {
	ie, ok := err.(*goja.InterruptedError)
	if ok {
		*target = ie
	}
	return ok
}

// Reset replaces the VM with a fresh one
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = goja.New()
	if r.config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}
	return r.setupGlobals()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	return nil
}
