package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRedisWithRetry_GivesUpWhenUnreachable(t *testing.T) {
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:1")
	t.Setenv("REDIS_REQUIRED", "")
	t.Setenv("REDIS_CONNECT_ATTEMPTS", "3")

	var sleeps []time.Duration
	prev := redisRetrySleep
	redisRetrySleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	t.Cleanup(func() { redisRetrySleep = prev })

	done := make(chan bool, 1)
	go func() { done <- ConnectRedisWithRetry() }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(20 * time.Second):
		t.Fatal("ConnectRedisWithRetry did not return for an unreachable address")
	}
	assert.Nil(t, GetRedisDB())
	assert.Nil(t, GetRedisLock())
	require.Len(t, sleeps, 2)
	assert.Equal(t, 2*time.Second, sleeps[0])
	assert.Equal(t, 4*time.Second, sleeps[1])
}

func TestRedisHelpersWithoutClient(t *testing.T) {
	found, err := GetRedisObject("missing", &struct{}{})
	require.NoError(t, err)
	assert.False(t, found)

	_, exists, err := GetRedisValue("missing")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, SetRedisObject("k", map[string]int{"a": 1}, time.Minute))
	assert.NoError(t, RemoveRedisKey("k"))
}
