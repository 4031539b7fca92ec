package defense

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateAuthenticate(t *testing.T) {
	gate := NewGate("my_secret_agent_pass_123")

	assert.True(t, gate.Authenticate("my_secret_agent_pass_123"))
	assert.False(t, gate.Authenticate("my_secret_agent_pass_12"))
	assert.False(t, gate.Authenticate("wrong"))
	assert.False(t, gate.Authenticate(""))
}

func TestGateEmptySecretMatchesNothing(t *testing.T) {
	gate := NewGate("")
	assert.False(t, gate.Authenticate(""))
	assert.False(t, gate.Authenticate("anything"))

	var nilGate *Gate
	assert.False(t, nilGate.Authenticate("anything"))
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/stats/trapped", true},
		{"/maze/7", true},
		{"/verify-wallet/0xabc", true},
		{"/api/email-wallet/create", true},
		{"/generate-key", true},
		{"/me", false},
		{"/", false},
		{"/api/other", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldSkip(tt.path, DefaultSkipPaths))
		})
	}

	assert.False(t, ShouldSkip("/anything", []string{""}))
}

func TestKeyID(t *testing.T) {
	assert.Empty(t, KeyID(""))

	id := KeyID("my_secret_agent_pass_123")
	assert.Len(t, id, 8)
	assert.Equal(t, id, KeyID("my_secret_agent_pass_123"))
	assert.NotEqual(t, id, KeyID("other"))
	assert.NotContains(t, id, "secret")
}

func TestAuthInfoContext(t *testing.T) {
	_, ok := AuthInfoFrom(context.Background())
	assert.False(t, ok)

	ctx := WithAuthInfo(context.Background(), AuthInfo{Authenticated: true, ClientID: "1.2.3.4"})
	info, ok := AuthInfoFrom(ctx)
	assert.True(t, ok)
	assert.True(t, info.Authenticated)
	assert.Equal(t, "1.2.3.4", info.ClientID)
}
