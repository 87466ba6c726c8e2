package wsconn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jsonapi-go/engine"
)

func TestNewManager_DefaultsMaxSubsPerConnWhenNonPositive(t *testing.T) {
	broadcaster := jsonapi.NewBroadcaster(nil, jsonapi.SystemClock{})
	m := NewManager(broadcaster, 0, nil)
	assert.Equal(t, 20, m.maxSubsPerConn)
	assert.Equal(t, 30*time.Second, m.pingInterval)
}

func TestNewManager_DefaultCheckOriginAllowsAnyRequest(t *testing.T) {
	broadcaster := jsonapi.NewBroadcaster(nil, jsonapi.SystemClock{})
	m := NewManager(broadcaster, 5, nil)
	assert.True(t, m.upgrader.CheckOrigin(nil))
}

func TestManager_WithPingInterval_OverridesDefault(t *testing.T) {
	broadcaster := jsonapi.NewBroadcaster(nil, jsonapi.SystemClock{})
	m := NewManager(broadcaster, 5, nil).WithPingInterval(5 * time.Second)
	assert.Equal(t, 5*time.Second, m.pingInterval)
}

func TestManager_WithPingInterval_IgnoresNonPositiveDuration(t *testing.T) {
	broadcaster := jsonapi.NewBroadcaster(nil, jsonapi.SystemClock{})
	m := NewManager(broadcaster, 5, nil).WithPingInterval(0)
	assert.Equal(t, 30*time.Second, m.pingInterval)
}

func TestManager_Send_ToUnknownConnectionIsANoOp(t *testing.T) {
	broadcaster := jsonapi.NewBroadcaster(nil, jsonapi.SystemClock{})
	m := NewManager(broadcaster, 5, nil)
	err := m.Send(context.Background(), "no-such-connection", map[string]any{"type": "ping"})
	assert.NoError(t, err)
}
