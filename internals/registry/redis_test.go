package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanmay-xvx/meshbus/internals/topic"
)

func setupRedisRegistry(t *testing.T) (*miniredis.Miniredis, *RedisRegistry) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisRegistryWithClient(client, "test", nil)
	t.Cleanup(func() { r.Close() })
	return mr, r
}

func TestNewRedisRegistry(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedisRegistry(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "x"}, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = NewRedisRegistry(context.Background(), RedisOptions{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestRedisRegistry_AddTopic(t *testing.T) {
	_, r := setupRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.AddTopic(ctx, *topic.NewTopic(1, "news", "alice")))
	assert.ErrorIs(t, r.AddTopic(ctx, *topic.NewTopic(1, "other", "bob")), ErrTopicAlreadyExists)

	got, err := r.GetTopic(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, topic.Topic{ID: 1, Name: "news", Owner: "alice"}, *got)

	_, err = r.GetTopic(ctx, 2)
	assert.ErrorIs(t, err, ErrTopicNotFound)
}

func TestRedisRegistry_Subscriptions(t *testing.T) {
	_, r := setupRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.AddTopic(ctx, *topic.NewTopic(2, "sports", "alice")))
	require.NoError(t, r.AddTopic(ctx, *topic.NewTopic(1, "news", "alice")))

	require.NoError(t, r.AddSubscriber(ctx, 1, "bob"))
	require.NoError(t, r.AddSubscriber(ctx, 1, "carol"))
	require.NoError(t, r.AddSubscriber(ctx, 2, "bob"))
	assert.ErrorIs(t, r.AddSubscriber(ctx, 1, "bob"), ErrAlreadySubscribed)
	assert.ErrorIs(t, r.AddSubscriber(ctx, 9, "bob"), ErrTopicNotFound)

	names, err := r.GetAllSubscriberNames(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, names)

	ids, err := r.GetSubscriptionsOf(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)

	topics, err := r.ListAllTopics(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, 1, topics[0].ID)
	assert.Equal(t, 2, topics[0].Subscribers)
	assert.Equal(t, 2, topics[1].ID)
	assert.Equal(t, 1, topics[1].Subscribers)

	require.NoError(t, r.RemoveSubscriber(ctx, 1, "bob"))
	require.NoError(t, r.RemoveSubscriber(ctx, 1, "bob"))
	got, _ := r.GetTopic(ctx, 1)
	assert.Equal(t, 1, got.Subscribers)
}

func TestRedisRegistry_SubUnsubRoundTrip(t *testing.T) {
	_, r := setupRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.AddTopic(ctx, *topic.NewTopic(1, "news", "alice")))
	require.NoError(t, r.AddSubscriber(ctx, 1, "carol"))

	before := snapshot(t, r)
	require.NoError(t, r.AddSubscriber(ctx, 1, "bob"))
	require.NoError(t, r.RemoveSubscriber(ctx, 1, "bob"))
	assert.Equal(t, before, snapshot(t, r))
}

func TestRedisRegistry_DeleteAndDisconnect(t *testing.T) {
	mr, r := setupRedisRegistry(t)
	ctx := context.Background()

	for _, id := range []int{1, 2, 3} {
		require.NoError(t, r.AddTopic(ctx, *topic.NewTopic(id, "t", "alice")))
		require.NoError(t, r.AddSubscriber(ctx, id, "bob"))
	}
	require.NoError(t, r.AddSubscriber(ctx, 3, "carol"))

	require.NoError(t, r.DeleteTopic(ctx, 1))
	require.NoError(t, r.DeleteTopic(ctx, 1))
	assert.False(t, mr.Exists("test:topic:1"))
	assert.False(t, mr.Exists("test:topic:1:subscribers"))

	ids, _ := r.GetSubscriptionsOf(ctx, "bob")
	assert.Equal(t, []int{2, 3}, ids)

	require.NoError(t, r.DisconnectSubscriber(ctx, "bob"))
	require.NoError(t, r.DisconnectSubscriber(ctx, "nobody"))

	ids, _ = r.GetSubscriptionsOf(ctx, "bob")
	assert.Empty(t, ids)
	assert.False(t, mr.Exists("test:subscriber:bob:topics"))

	names, _ := r.GetAllSubscriberNames(ctx, 3)
	assert.Equal(t, []string{"carol"}, names)
	got, _ := r.GetTopic(ctx, 2)
	assert.Equal(t, 0, got.Subscribers)
}

func TestRegistryBackendsAgree(t *testing.T) {
	_, rr := setupRedisRegistry(t)
	backends := map[string]TopicRegistry{
		"memory": NewRegistry(nil),
		"redis":  rr,
	}

	states := make(map[string]registryState)
	for name, r := range backends {
		ctx := context.Background()
		r.AddTopic(ctx, *topic.NewTopic(1, "news", "alice"))
		r.AddTopic(ctx, *topic.NewTopic(2, "sports", "bob"))
		r.AddSubscriber(ctx, 1, "carol")
		r.AddSubscriber(ctx, 2, "carol")
		r.AddSubscriber(ctx, 2, "dave")
		r.DeleteTopic(ctx, 1)
		r.AddTopic(ctx, *topic.NewTopic(3, "music", "bob"))
		r.AddSubscriber(ctx, 3, "dave")
		r.DisconnectSubscriber(ctx, "carol")
		states[name] = snapshot(t, r)
	}

	assert.Equal(t, states["memory"], states["redis"])
}
