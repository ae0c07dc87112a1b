package media

import (
	"testing"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueScopesTokenToChannel(t *testing.T) {
	ti := NewTokenIssuer(Config{
		URL:       "ws://localhost:7880",
		APIKey:    "devkey",
		APISecret: "a-secret-that-is-long-enough-for-hmac",
		TokenTTL:  time.Hour,
	})

	creds, err := ti.Issue("room_a_b", "b")
	require.NoError(t, err)
	assert.Equal(t, "devkey", creds.AppID)
	assert.Equal(t, "ws://localhost:7880", creds.URL)
	assert.Equal(t, "room_a_b", creds.Channel)
	assert.Greater(t, creds.ExpiresAt, time.Now().Unix())

	verifier, err := auth.ParseAPIToken(creds.Token)
	require.NoError(t, err)
	assert.Equal(t, "devkey", verifier.APIKey())
	assert.Equal(t, "b", verifier.Identity())
}
