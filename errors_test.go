package jsonapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_StatusCode(t *testing.T) {
	cases := map[Kind]int{
		KindPayload:             400,
		KindUnsupportedOperation: 400,
		KindAuthentication:      401,
		KindAuthorization:       403,
		KindNotFound:            404,
		KindConflict:            409,
		KindValidation:          422,
		KindStorageFailure:      500,
	}
	for kind, status := range cases {
		e := &Error{Kind: kind}
		assert.Equal(t, status, e.StatusCode(), "kind %s", kind)
	}
}

func TestErrNotFound_NeverDowngradesToAuthorization(t *testing.T) {
	err := ErrNotFound("posts", "42")
	assert.Equal(t, KindNotFound, err.Kind)
	assert.Equal(t, 404, err.StatusCode())
}

func TestErrStorage_PassesThroughExistingError(t *testing.T) {
	inner := ErrConflict("duplicate email")
	assert.Same(t, inner, ErrStorage(inner))
	assert.Nil(t, ErrStorage(nil))
}

func TestIsKind(t *testing.T) {
	err := ErrAccessDenied("posts", OpPatch, []string{"owns"}, "not the owner")
	assert.True(t, IsKind(err, KindAuthorization))
	assert.False(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(errors.New("plain"), KindAuthorization))
}

func TestRenderError_WrapsPlainErrorsAsStorageFailure(t *testing.T) {
	status, doc := RenderError(errors.New("disk on fire"))
	assert.Equal(t, 500, status)

	errs, ok := doc["errors"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, string(KindStorageFailure), errs[0]["code"])
}

func TestRenderError_IncludesViolations(t *testing.T) {
	v := Violation{Path: "data.attributes.title", Message: "is required"}
	status, doc := RenderError(ErrValidationViolations(v))
	assert.Equal(t, 422, status)

	errs := doc["errors"].([]map[string]any)
	meta := errs[0]["meta"].(map[string]any)
	violations := meta["violations"].([]map[string]any)
	require.Len(t, violations, 1)
	assert.Equal(t, "data.attributes.title", violations[0]["path"])
}
