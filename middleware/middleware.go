// Package middleware wraps client calls with cross-cutting behavior.
//
// Middlewares compose in the onion model:
//
//	Chain(A, B, C)(call) → A(B(C(call)))
//	A.before → B.before → C.before → call → C.after → B.after → A.after
//
// A HandlerFunc never returns nil; failures travel in the Response.
package middleware

import (
	"context"

	"go-ubus/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
