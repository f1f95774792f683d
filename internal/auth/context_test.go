// ABOUTME: Unit tests for authentication context helpers
// ABOUTME: Tests WithAuth/FromContext round trips and anonymous contexts

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	ctx := WithAuth(context.Background(), &AuthContext{UserID: "user-1"})

	got := FromContext(ctx)
	if assert.NotNil(t, got) {
		assert.Equal(t, "user-1", got.UserID)
	}
	assert.Equal(t, "user-1", UserID(ctx))
}

func TestFromContext_Anonymous(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Equal(t, "", UserID(context.Background()))
}
