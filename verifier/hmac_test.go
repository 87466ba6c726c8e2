package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsonapi-go/engine"
)

func TestHMACVerifier_SignThenVerifyRoundTrips(t *testing.T) {
	clock := jsonapi.FixedClock{At: time.Unix(1000, 0)}
	v := NewHMACVerifier([]byte("secret"), clock)

	token := v.Sign("user-1", "user@example.com", []string{"admin"}, "jti-1", time.Unix(2000, 0))
	claims, err := v.Verify(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.Equal(t, "jti-1", claims.TokenID)
}

func TestHMACVerifier_RejectsTamperedSignature(t *testing.T) {
	clock := jsonapi.FixedClock{At: time.Unix(1000, 0)}
	v := NewHMACVerifier([]byte("secret"), clock)
	token := v.Sign("user-1", "", nil, "", time.Unix(2000, 0))

	tampered := token[:len(token)-1] + "0"
	_, err := v.Verify(context.Background(), tampered)
	assert.Error(t, err)
}

func TestHMACVerifier_RejectsWrongSecret(t *testing.T) {
	clock := jsonapi.FixedClock{At: time.Unix(1000, 0)}
	signer := NewHMACVerifier([]byte("secret-a"), clock)
	verifier := NewHMACVerifier([]byte("secret-b"), clock)

	token := signer.Sign("user-1", "", nil, "", time.Unix(2000, 0))
	_, err := verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestHMACVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewHMACVerifier([]byte("secret"), jsonapi.FixedClock{At: time.Unix(3000, 0)})
	token := v.Sign("user-1", "", nil, "", time.Unix(2000, 0))

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, errExpiredToken)
}

func TestHMACVerifier_RejectsMalformedToken(t *testing.T) {
	v := NewHMACVerifier([]byte("secret"), nil)
	_, err := v.Verify(context.Background(), "not-a-valid-token")
	assert.ErrorIs(t, err, errInvalidToken)
}
