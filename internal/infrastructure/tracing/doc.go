/*
Package tracing provides lightweight spans for kernel operations and admin requests.

# Overview

The kernel opens a span for each traced operation (process lifecycle, sendrec,
safecopy, grant revocation, scheduling delegation). Finished spans are logged at
debug level and fanned out to subscribers; the admin event feed is one such
subscriber.

# Usage

	tracer := tracing.New("kernel", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "sendrec")
	span.SetTag("dest", dest.String())
	err := doCall(ctx)
	span.SetError(err)
	span.Finish()
	tracer.Submit(span)

	feed, cancel := tracer.Subscribe(64)
	defer cancel()
	for span := range feed {
		...
	}

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

Span submission never blocks: when the 1000-span buffer is full the span is
dropped with a warning, and subscribers that fall behind miss spans.
*/
package tracing
