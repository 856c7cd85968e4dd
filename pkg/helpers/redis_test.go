package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	rdb, err := NewRedisClient(RedisOptions{URL: "redis://:pw@cache:6380/3"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", rdb.Options().Addr)
	assert.Equal(t, "pw", rdb.Options().Password)
	assert.Equal(t, 3, rdb.Options().DB)

	rdb, err = NewRedisClient(RedisOptions{Addr: "localhost:6379", DB: 1})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", rdb.Options().Addr)
	assert.Equal(t, 1, rdb.Options().DB)

	_, err = NewRedisClient(RedisOptions{URL: "http://nope"})
	assert.Error(t, err)
}
