// Package httpmiddleware contains net/http middleware shared by the API
// server: panic recovery, request-scoped logging and rate limiting.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler. It has the same shape as chi middleware.
type Middleware = func(http.Handler) http.Handler

// Wrap applies middlewares so that the first one is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
