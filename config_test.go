package jsonapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.Equal(t, 100, cfg.BulkMaxItems)
	assert.Equal(t, 25, cfg.BulkChunkSize)
	assert.Equal(t, 20, cfg.MaxSubscriptionsPerConnection)
}

func TestLoadEngineConfigYAML_OverridesOnlyGivenFields(t *testing.T) {
	cfg, err := LoadEngineConfigYAML([]byte("bulkMaxItems: 250\n"))
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.BulkMaxItems)
	assert.Equal(t, 25, cfg.BulkChunkSize, "fields absent from the YAML keep the default")
}

func TestLoadEngineConfigYAML_RejectsMalformedYAML(t *testing.T) {
	_, err := LoadEngineConfigYAML([]byte("bulkMaxItems: [not-a-scalar\n"))
	assert.Error(t, err)
}
