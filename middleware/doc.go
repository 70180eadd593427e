// Package middleware wraps processor calls with cross-cutting behaviour.
//
// A [Middleware] receives the claimed job and the next [Handler]; the
// worker composes them with [Chain], first entry outermost:
//
//	worker.WithMiddleware(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Timeout(30*time.Second),
//	)
//
// The error a middleware returns is the error the worker settles the job
// with, so a middleware can turn a failure into strand.RateLimit or
// strand.Unrecoverable. [Classify] reports which settlement an error leads
// to; Logging, Tracing and Metrics tag each attempt with it.
package middleware
