// Package jwtauth verifies and issues HS256-signed JWTs.
package jwtauth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
)

// RateLimitClaim optionally overrides the caller's request budget.
const RateLimitClaim = "rate_limit"

type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// Verify checks the signature, expiry, issuer and audience. The identity
// subject is the token's sub claim, which must be present.
func (v *Verifier) Verify(ctx context.Context, token string) (auth.Identity, error) {
	tok, err := jwt.Parse(
		[]byte(token),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if tok.Subject() == "" {
		return auth.Identity{}, fmt.Errorf("%w: token has no subject", apperrors.ErrUnauthorized)
	}

	id := auth.Identity{Subject: tok.Subject(), Method: "jwt"}
	if raw, ok := tok.Get(RateLimitClaim); ok {
		if n, ok := raw.(float64); ok {
			id.RateLimit = int(n)
		}
	}
	return id, nil
}

// Issue signs a token for subject valid for ttl. rateLimit is omitted when
// zero.
func (v *Verifier) Issue(subject string, ttl time.Duration, rateLimit int) (string, error) {
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer(v.issuer).
		Audience([]string{v.audience}).
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if rateLimit > 0 {
		b = b.Claim(RateLimitClaim, rateLimit)
	}
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("building token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return string(signed), nil
}

var _ auth.Verifier = (*Verifier)(nil)
