package jsonapi

import (
	"context"
	"time"
)

// AuthContext is the per-request identity derived from a presented token
// (spec.md §3). A zero-value AuthContext is the anonymous context.
type AuthContext struct {
	UserID     *string
	ProviderID *string
	Email      *string
	Roles      map[string]bool
	RawClaims  map[string]any
	TokenID    *string
	System     bool

	// NeedsSync marks a verified-but-not-locally-persisted identity when no
	// UserLinker is configured to resolve it. See DESIGN.md's decision on
	// the "needsSync + public rules" Open Question: such a context still
	// satisfies "authenticated" but can never satisfy "owns".
	NeedsSync bool
}

// HasRole reports whether the context carries the named role.
func (a AuthContext) HasRole(role string) bool {
	return a.Roles != nil && a.Roles[role]
}

// Claims is what a TokenVerifier extracts from a verified token, before
// AuthContextBuilder maps provider-configured field names onto AuthContext.
type Claims struct {
	Subject   string // provider-specific user id
	Email     string
	Roles     []string
	TokenID   string // jti
	ExpiresAt time.Time
	Raw       map[string]any
}

// TokenVerifier is the opaque-token-in, Claims-out capability the core
// engine receives (spec.md §1 "Token verifiers ... Core receives an opaque
// token string and a verifier capability"). verifier/ provides concrete
// symmetric-secret and remote-keyset implementations.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// RevocationRecord is one row of the revoked_tokens table (spec.md §4.3,
// §6.4).
type RevocationRecord struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
	RevokedAt time.Time
}

// RevocationStore is either the persistent or in-memory variant named in
// spec.md §4.3. revocation/ provides both.
type RevocationStore interface {
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
	Revoke(ctx context.Context, rec RevocationRecord) error
	Prune(ctx context.Context, now time.Time) error
}

// UserLinker resolves a verified external identity to a local user id
// (spec.md §4.3 "Local userId is attached to the context").
type UserLinker interface {
	FindByProviderID(ctx context.Context, provider, providerID string) (userID string, found bool, err error)
	FindByEmail(ctx context.Context, email string) (userID string, found bool, err error)
	CreateUser(ctx context.Context, provider, providerID, email string) (userID string, err error)
}

// AuthContextBuilder implements spec.md §4.3 end to end.
type AuthContextBuilder struct {
	Verifier           TokenVerifier
	Revocation         RevocationStore
	Linker             UserLinker
	DefaultProvider    string
	EnableEmailLinking bool
	Clock              Clock
}

// Build verifies token (if present) and produces an AuthContext, or an
// authentication error when a presented token fails verification (spec.md
// §4.3: "Verification failure with a token present → authentication error,
// request is rejected").
func (b *AuthContextBuilder) Build(ctx context.Context, token, provider string) (AuthContext, error) {
	if token == "" {
		return AuthContext{}, nil
	}
	if provider == "" {
		provider = b.DefaultProvider
	}

	claims, err := b.Verifier.Verify(ctx, token)
	if err != nil {
		return AuthContext{}, ErrAuthentication(err.Error())
	}

	now := b.now()
	if claims.TokenID != "" && b.Revocation != nil {
		revoked, err := b.Revocation.IsRevoked(ctx, claims.TokenID, now)
		if err != nil {
			return AuthContext{}, ErrStorage(err)
		}
		if revoked {
			return AuthContext{}, nil
		}
	}

	auth := AuthContext{
		ProviderID: &claims.Subject,
		RawClaims:  claims.Raw,
	}
	if claims.Email != "" {
		auth.Email = &claims.Email
	}
	if claims.TokenID != "" {
		auth.TokenID = &claims.TokenID
	}
	if len(claims.Roles) > 0 {
		auth.Roles = make(map[string]bool, len(claims.Roles))
		for _, r := range claims.Roles {
			auth.Roles[r] = true
		}
	}

	if b.Linker == nil {
		auth.NeedsSync = true
		return auth, nil
	}

	userID, err := b.linkUser(ctx, provider, claims)
	if err != nil {
		return AuthContext{}, err
	}
	auth.UserID = &userID
	return auth, nil
}

// linkUser implements the link-by-provider-id, then link-by-email, then
// create sequence of spec.md §4.3, with the single retry on create-conflict
// decided in DESIGN.md's Open Question resolution.
func (b *AuthContextBuilder) linkUser(ctx context.Context, provider string, claims Claims) (string, error) {
	if id, found, err := b.Linker.FindByProviderID(ctx, provider, claims.Subject); err != nil {
		return "", ErrStorage(err)
	} else if found {
		return id, nil
	}

	if b.EnableEmailLinking && claims.Email != "" {
		if id, found, err := b.Linker.FindByEmail(ctx, claims.Email); err != nil {
			return "", ErrStorage(err)
		} else if found {
			return id, nil
		}
	}

	id, err := b.Linker.CreateUser(ctx, provider, claims.Subject, claims.Email)
	if err == nil {
		return id, nil
	}
	if !IsKind(err, KindConflict) {
		return "", ErrStorage(err)
	}

	// Concurrent login race: another request created the user between our
	// lookup and our create. Retry the provider-id lookup exactly once
	// (spec.md §9 Open Question: "the source retries only once").
	if id, found, ferr := b.Linker.FindByProviderID(ctx, provider, claims.Subject); ferr == nil && found {
		return id, nil
	}
	return "", err
}

func (b *AuthContextBuilder) now() time.Time {
	if b.Clock != nil {
		return b.Clock.Now()
	}
	return time.Now()
}
