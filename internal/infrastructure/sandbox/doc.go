/*
Package sandbox evaluates untrusted display expressions in pooled goja runtimes.

# Overview

Block types may attach a `visible` expression to a component. Expressions are
plain JavaScript evaluated against the render context:

	payload   the block's inline data
	refs      resolved references keyed by slot
	block     id, type key and organisation of the rendered block

Each Runtime has:

  - Execution timeout enforced through goja's interrupt
  - Context cancellation wired to the same interrupt
  - A stripped global scope (no require, process, timers)
  - A bounded call stack

# Pooling

Runtimes are not safe for concurrent use. Pool hands them out over a buffered
channel and compiles each distinct expression once.

	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 4)
	visible, err := pool.EvalBool(ctx, "payload.status !== 'archived'", scope)
*/
package sandbox
