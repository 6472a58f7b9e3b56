// Package server hosts the Fiber HTTP service: request-ID middleware, panic
// recovery, the catch-all proxy route that turns each request into a
// fetch.Request for the worker host, and constructors for the origin client.
// Diagnostics under /-/ are registered by the routes subpackage.
package server
