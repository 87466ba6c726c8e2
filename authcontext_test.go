package jsonapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	claims Claims
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	return f.claims, f.err
}

type fakeLinker struct {
	byProvider map[string]string
	byEmail    map[string]string
	created    int
	failOnce   bool
}

func newFakeLinker() *fakeLinker {
	return &fakeLinker{byProvider: map[string]string{}, byEmail: map[string]string{}}
}

func (l *fakeLinker) FindByProviderID(ctx context.Context, provider, providerID string) (string, bool, error) {
	id, ok := l.byProvider[provider+":"+providerID]
	return id, ok, nil
}

func (l *fakeLinker) FindByEmail(ctx context.Context, email string) (string, bool, error) {
	id, ok := l.byEmail[email]
	return id, ok, nil
}

func (l *fakeLinker) CreateUser(ctx context.Context, provider, providerID, email string) (string, error) {
	l.created++
	if l.failOnce && l.created == 1 {
		// Simulate a concurrent winner creating the user between our lookup
		// and our own create call, which then fails with a conflict.
		l.byProvider[provider+":"+providerID] = "winner"
		return "", ErrConflict("race")
	}
	id := "new-user"
	l.byProvider[provider+":"+providerID] = id
	return id, nil
}

func TestAuthContextBuilder_NoTokenIsAnonymous(t *testing.T) {
	b := &AuthContextBuilder{}
	auth, err := b.Build(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, AuthContext{}, auth)
}

func TestAuthContextBuilder_VerificationFailureIsAuthenticationError(t *testing.T) {
	b := &AuthContextBuilder{Verifier: &fakeVerifier{err: assertErr{"bad token"}}}
	_, err := b.Build(context.Background(), "tok", "demo")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthentication))
}

func TestAuthContextBuilder_NoLinkerMarksNeedsSync(t *testing.T) {
	b := &AuthContextBuilder{Verifier: &fakeVerifier{claims: Claims{Subject: "p1"}}}
	auth, err := b.Build(context.Background(), "tok", "demo")
	require.NoError(t, err)
	assert.True(t, auth.NeedsSync)
	assert.Nil(t, auth.UserID)
}

func TestAuthContextBuilder_LinksByProviderIDThenCreates(t *testing.T) {
	linker := newFakeLinker()
	b := &AuthContextBuilder{
		Verifier: &fakeVerifier{claims: Claims{Subject: "p1", Email: "a@example.com"}},
		Linker:   linker,
	}
	auth, err := b.Build(context.Background(), "tok", "demo")
	require.NoError(t, err)
	require.NotNil(t, auth.UserID)
	assert.Equal(t, "new-user", *auth.UserID)
}

func TestAuthContextBuilder_RetriesOnceOnCreateConflict(t *testing.T) {
	linker := newFakeLinker()
	linker.failOnce = true
	b := &AuthContextBuilder{
		Verifier: &fakeVerifier{claims: Claims{Subject: "p1"}},
		Linker:   linker,
	}
	auth, err := b.Build(context.Background(), "tok", "demo")
	require.NoError(t, err)
	require.NotNil(t, auth.UserID)
	assert.Equal(t, "winner", *auth.UserID)
}

func TestAuthContextBuilder_RevokedTokenYieldsAnonymousContext(t *testing.T) {
	jti := "jti-1"
	revoked := &fakeRevocationStore{revokedJTIs: map[string]bool{jti: true}}
	b := &AuthContextBuilder{
		Verifier:   &fakeVerifier{claims: Claims{Subject: "p1", TokenID: jti}},
		Revocation: revoked,
	}
	auth, err := b.Build(context.Background(), "tok", "demo")
	require.NoError(t, err)
	assert.Equal(t, AuthContext{}, auth)
}

type fakeRevocationStore struct {
	revokedJTIs map[string]bool
}

func (f *fakeRevocationStore) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	return f.revokedJTIs[jti], nil
}
func (f *fakeRevocationStore) Revoke(ctx context.Context, rec RevocationRecord) error { return nil }
func (f *fakeRevocationStore) Prune(ctx context.Context, now time.Time) error         { return nil }

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
