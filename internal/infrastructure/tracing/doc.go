/*
Package tracing provides lightweight request tracing.

# Overview

Every HTTP request gets a trace id (taken from X-Trace-ID when the caller
supplies one) and a span. Downstream work such as resolver fan-out opens
child spans on the same trace, and outbound resolver calls carry the ids in
their headers.

# Usage

	tracer := tracing.New("blocktree", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	err := tracer.Trace(ctx, "resolve.CONTACT", func(ctx context.Context, span *tracing.Span) error {
		span.SetTag("count", "3")
		return resolver.Resolve(ctx, ids)
	})

# Trace Format

Traces use HTTP headers for propagation:
  - X-Trace-ID: identifier for the entire request flow
  - X-Span-ID: identifier for the current operation

Finished spans are buffered (1000 spans) and written by a single collector
goroutine. Successful spans log at debug level, failed ones at warn.
*/
package tracing
