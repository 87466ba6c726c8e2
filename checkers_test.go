package jsonapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPublic_AlwaysAuthorizes(t *testing.T) {
	ok, err := checkPublic(context.Background(), AuthContext{}, CheckerExtra{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckAuthenticated(t *testing.T) {
	ok, err := checkAuthenticated(context.Background(), AuthContext{}, CheckerExtra{})
	require.NoError(t, err)
	assert.False(t, ok)

	userID := "u1"
	ok, err = checkAuthenticated(context.Background(), AuthContext{UserID: &userID}, CheckerExtra{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checkAuthenticated(context.Background(), AuthContext{System: true}, CheckerExtra{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckOwns(t *testing.T) {
	resource := ownedPostResource()
	userID := "user-1"
	auth := AuthContext{UserID: &userID}

	ok, err := checkOwns(context.Background(), auth, CheckerExtra{Resource: resource})
	require.NoError(t, err)
	assert.False(t, ok, "no record loaded abstains rather than authorizing")

	record := &MinimalRecord{ID: "post-1", Attributes: map[string]any{"author_id": "user-1"}}
	ok, err = checkOwns(context.Background(), auth, CheckerExtra{Resource: resource, MinimalRecord: record})
	require.NoError(t, err)
	assert.True(t, ok)

	record.Attributes["author_id"] = "user-2"
	ok, err = checkOwns(context.Background(), auth, CheckerExtra{Resource: resource, MinimalRecord: record})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizer_FirstMatchingRuleWinsOR(t *testing.T) {
	b := NewBuilder()
	b.RegisterChecker("neverAllows", func(ctx context.Context, auth AuthContext, extra CheckerExtra) (bool, error) {
		return false, nil
	})
	b.AddResource(ResourceDefinition{
		Name: "posts",
		AuthRules: map[Operation][]string{
			OpGet: {"neverAllows", "public"},
		},
	})
	reg, err := b.Freeze()
	require.NoError(t, err)

	az := NewAuthorizer(reg)
	resource, _ := reg.Resource("posts")
	assert.NoError(t, az.Authorize(context.Background(), AuthContext{}, resource, OpGet, nil, nil))
}

func TestAuthorizer_NoRulesDeniesByDefault(t *testing.T) {
	b := NewBuilder()
	b.AddResource(ResourceDefinition{Name: "posts"})
	reg, err := b.Freeze()
	require.NoError(t, err)

	az := NewAuthorizer(reg)
	resource, _ := reg.Resource("posts")
	err = az.Authorize(context.Background(), AuthContext{}, resource, OpGet, nil, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthorization))
}
