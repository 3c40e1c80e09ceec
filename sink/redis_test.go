package sink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ogzhanolguncu/hostess/map_reduce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisOptions{
		URL: fmt.Sprintf("redis://%s", mr.Addr()),
		Key: "hosts",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return r, mr
}

func TestRedis_Write(t *testing.T) {
	r, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Write(ctx, records))
	// a second run with overlapping records must not add duplicates
	require.NoError(t, r.Write(ctx, append(records, map_reduce.KeyValue{Key: "::1", Value: "ip6-localhost"})))

	members, err := mr.Members("hosts")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"127.0.0.1\tlocalhost",
		"::1\tlocalhost",
		"::1\tip6-localhost",
	}, members)

	hosts, err := mr.Members(r.AddressKey("::1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"localhost", "ip6-localhost"}, hosts)
}

func TestRedis_WriteBatches(t *testing.T) {
	r, mr := setupRedis(t)

	kvs := make([]map_reduce.KeyValue, redisBatchSize*2+7)
	for i := range kvs {
		kvs[i] = map_reduce.KeyValue{Key: "10.0.0.1", Value: fmt.Sprintf("host-%d", i)}
	}
	require.NoError(t, r.Write(context.Background(), kvs))

	members, err := mr.Members("hosts")
	require.NoError(t, err)
	assert.Len(t, members, len(kvs))
}

func TestNewRedis_Errors(t *testing.T) {
	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedis(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedis(RedisOptions{
			URL:            "redis://localhost:99999",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}
