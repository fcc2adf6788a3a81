package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_EmptyJWKSURL_DisablesRegardlessOfFlag(t *testing.T) {
	a := New(true, "")
	assert.False(t, a.Enabled())
}

func TestNew_DisabledFlag(t *testing.T) {
	a := New(false, "https://example.com/jwks.json")
	assert.False(t, a.Enabled())
}

func TestAuthenticate_DisabledAlwaysReturnsAnonymous(t *testing.T) {
	a := New(false, "")
	p, err := a.Authenticate(context.Background(), "whatever-or-empty")
	assert.NoError(t, err)
	assert.Equal(t, Anonymous, p)
	assert.True(t, p.IsAnonymous())
}

func TestAuthenticate_EnabledButMissingToken(t *testing.T) {
	a := New(true, "https://example.com/jwks.json")
	_, err := a.Authenticate(context.Background(), "")
	assert.Error(t, err)
}

func TestPrincipal_IsAnonymous(t *testing.T) {
	assert.True(t, Principal{}.IsAnonymous())
	assert.False(t, Principal{Subject: "user-1"}.IsAnonymous())
}
