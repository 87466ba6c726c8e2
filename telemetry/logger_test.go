package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestRequestFields_IncludesResourceOperationAndRequestID(t *testing.T) {
	fields := RequestFields("posts", "get", "req-1")

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}

	assert.Equal(t, "posts", enc.Fields["resource"])
	assert.Equal(t, "get", enc.Fields["operation"])
	assert.Equal(t, "req-1", enc.Fields["request_id"])
}

func TestNewSugaredLogger_DerivesFromBaseLogger(t *testing.T) {
	base := zap.NewNop()
	sugared := NewSugaredLogger(base)
	assert.NotNil(t, sugared)
}
