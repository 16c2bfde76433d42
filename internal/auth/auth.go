// Package auth turns request credentials into a caller Identity. The rest
// of the pipeline only ever sees the Identity's Subject, an opaque string
// recorded on each submitted item.
package auth

import (
	"context"
)

// Identity is an authenticated caller. RateLimit is requests per rate
// window; zero means the configured default.
type Identity struct {
	Subject   string `json:"subject"`
	Method    string `json:"method"`
	RateLimit int    `json:"rate_limit,omitempty"`
}

// Verifier checks a presented credential. Failures should wrap
// apperrors.ErrUnauthorized; any other error is treated as the verifier
// being unavailable.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type VerifierFunc func(ctx context.Context, token string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the Identity set by Authenticate.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
