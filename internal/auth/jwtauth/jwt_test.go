package jwtauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("s3cret", "content-pipeline", "content-api")

	token, err := v.Issue("alice", time.Hour, 50)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, "jwt", id.Method)
	assert.Equal(t, 50, id.RateLimit)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("s3cret", "content-pipeline", "content-api")

	expired, err := v.Issue("alice", -time.Hour, 0)
	require.NoError(t, err)
	otherKey, err := NewVerifier("different", "content-pipeline", "content-api").Issue("alice", time.Hour, 0)
	require.NoError(t, err)
	otherAudience, err := NewVerifier("s3cret", "content-pipeline", "elsewhere").Issue("alice", time.Hour, 0)
	require.NoError(t, err)
	noSubject, err := v.Issue("", time.Hour, 0)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-token",
		"expired":        expired,
		"wrong key":      otherKey,
		"wrong audience": otherAudience,
		"no subject":     noSubject,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
		})
	}
}
