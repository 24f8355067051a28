package redis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/config"
)

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(redis.Nil))
	assert.True(t, IsNilError(fmt.Errorf("cache get: %w", redis.Nil)))
	assert.False(t, IsNilError(errors.New("connection refused")))
	assert.False(t, IsNilError(nil))
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(config.RedisConfig{Addr: "127.0.0.1:1", PoolSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}
