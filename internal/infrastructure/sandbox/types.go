package sandbox

import (
	"errors"
	"time"
)

var (
	ErrPoolClosed = errors.New("sandbox pool is closed")
	ErrTimeout    = errors.New("sandbox acquisition timeout")
	ErrEmpty      = errors.New("empty expression")
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // per-evaluation budget
	AcquireTimeout   time.Duration // wait for a free runtime
	MaxCallStackSize int
	MaxExprLength    int
}

// DefaultConfig returns limits suited to short boolean expressions
func DefaultConfig() Config {
	return Config{
		Timeout:          100 * time.Millisecond,
		AcquireTimeout:   time.Second,
		MaxCallStackSize: 256,
		MaxExprLength:    2048,
	}
}

// Scope is the set of globals visible to an expression
type Scope map[string]any
