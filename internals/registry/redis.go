package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/topic"
)

// RedisOptions configures a RedisRegistry.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisRegistry is a TopicRegistry kept in Redis.
//
// Layout under Prefix:
//
//	topics                    zset of topic ids, scored by id
//	topic:{id}                hash with name, owner, subscribers
//	topic:{id}:subscribers    list of user names in subscription order
//	subscriber:{user}:topics  set of topic ids
//
// Check-then-write sequences are serialised by mu; multi-key writes go
// through MULTI/EXEC so a reader never sees half an update.
type RedisRegistry struct {
	mu     sync.Mutex
	client *redis.Client
	prefix string
	log    logging.Logger
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(ctx context.Context, opts RedisOptions, log logging.Logger) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	r := NewRedisRegistryWithClient(client, opts.Prefix, log)
	r.log.Infof("Topic registry connected to redis at %s, db %d", opts.Addr, opts.DB)
	return r, nil
}

// NewRedisRegistryWithClient wraps an existing client.
func NewRedisRegistryWithClient(client *redis.Client, prefix string, log logging.Logger) *RedisRegistry {
	if log == nil {
		log = logging.NewNop()
	}
	if prefix == "" {
		prefix = "meshbus"
	}
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		log:    log.WithFields(map[string]interface{}{"component": "registry", "backend": "redis"}),
	}
}

// Close releases the Redis connection pool.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) topicsKey() string { return r.prefix + ":topics" }

func (r *RedisRegistry) topicKey(id int) string {
	return r.prefix + ":topic:" + strconv.Itoa(id)
}

func (r *RedisRegistry) subscribersKey(id int) string {
	return r.topicKey(id) + ":subscribers"
}

func (r *RedisRegistry) userKey(user string) string {
	return r.prefix + ":subscriber:" + user + ":topics"
}

// AddTopic inserts a topic with a zero subscriber count.
func (r *RedisRegistry) AddTopic(ctx context.Context, t topic.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	added, err := r.client.ZAddNX(ctx, r.topicsKey(), redis.Z{Score: float64(t.ID), Member: t.ID}).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return ErrTopicAlreadyExists
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.subscribersKey(t.ID))
		pipe.HSet(ctx, r.topicKey(t.ID), "name", t.Name, "owner", t.Owner, "subscribers", 0)
		return nil
	})
	if err != nil {
		r.client.ZRem(ctx, r.topicsKey(), t.ID)
		return err
	}

	r.log.Infof("Topic %d added for publisher %s", t.ID, t.Owner)
	return nil
}

// DeleteTopic removes the topic and all of its memberships.
func (r *RedisRegistry) DeleteTopic(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.client.LRange(ctx, r.subscribersKey(id), 0, -1).Result()
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, user := range users {
			pipe.SRem(ctx, r.userKey(user), id)
		}
		pipe.Del(ctx, r.subscribersKey(id), r.topicKey(id))
		pipe.ZRem(ctx, r.topicsKey(), id)
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Infof("Topic %d deleted", id)
	return nil
}

// AddSubscriber records a membership.
func (r *RedisRegistry) AddSubscriber(ctx context.Context, id int, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.client.Exists(ctx, r.topicKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrTopicNotFound
	}

	member, err := r.client.SIsMember(ctx, r.userKey(user), id).Result()
	if err != nil {
		return err
	}
	if member {
		return ErrAlreadySubscribed
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.subscribersKey(id), user)
		pipe.SAdd(ctx, r.userKey(user), id)
		pipe.HIncrBy(ctx, r.topicKey(id), "subscribers", 1)
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debugf("Subscriber %s added to topic %d", user, id)
	return nil
}

// RemoveSubscriber removes a membership if present.
func (r *RedisRegistry) RemoveSubscriber(ctx context.Context, id int, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(ctx, id, user)
}

// DisconnectSubscriber removes every membership of user.
func (r *RedisRegistry) DisconnectSubscriber(ctx context.Context, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, err := r.client.SMembers(ctx, r.userKey(user)).Result()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		r.log.Debugf("No topics found for subscriber %s", user)
		return nil
	}

	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if err := r.removeLocked(ctx, id, user); err != nil {
			return err
		}
	}
	if err := r.client.Del(ctx, r.userKey(user)).Err(); err != nil {
		return err
	}

	r.log.Infof("Subscriber %s disconnected from all topics", user)
	return nil
}

// GetAllSubscriberNames returns the topic's subscribers in subscription order.
func (r *RedisRegistry) GetAllSubscriberNames(ctx context.Context, id int) ([]string, error) {
	names, err := r.client.LRange(ctx, r.subscribersKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	return names, nil
}

// ListAllTopics returns all topics ordered by id.
func (r *RedisRegistry) ListAllTopics(ctx context.Context) ([]topic.Topic, error) {
	members, err := r.client.ZRange(ctx, r.topicsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, r.prefix+":topic:"+m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	topics := make([]topic.Topic, 0, len(members))
	for i, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		fields := cmds[i].Val()
		if len(fields) == 0 {
			// deleted between the two round trips
			continue
		}
		topics = append(topics, decodeTopic(id, fields))
	}
	return topics, nil
}

// GetSubscriptionsOf returns the topic ids user subscribes to, ascending.
func (r *RedisRegistry) GetSubscriptionsOf(ctx context.Context, user string) ([]int, error) {
	members, err := r.client.SMembers(ctx, r.userKey(user)).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(members))
	for _, m := range members {
		if id, err := strconv.Atoi(m); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// GetTopic returns the topic or ErrTopicNotFound.
func (r *RedisRegistry) GetTopic(ctx context.Context, id int) (*topic.Topic, error) {
	fields, err := r.client.HGetAll(ctx, r.topicKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrTopicNotFound
	}
	t := decodeTopic(id, fields)
	return &t, nil
}

// removeLocked removes one membership. Caller holds r.mu.
func (r *RedisRegistry) removeLocked(ctx context.Context, id int, user string) error {
	removed, err := r.client.LRem(ctx, r.subscribersKey(id), 1, user).Result()
	if err != nil {
		return err
	}

	count := 0
	if removed > 0 {
		count, err = r.client.HGet(ctx, r.topicKey(id), "subscribers").Int()
		if err != nil && err != redis.Nil {
			return err
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.userKey(user), id)
		if removed > 0 && count > 0 {
			pipe.HIncrBy(ctx, r.topicKey(id), "subscribers", -1)
		}
		return nil
	})
	return err
}

func decodeTopic(id int, fields map[string]string) topic.Topic {
	subs, _ := strconv.Atoi(fields["subscribers"])
	return topic.Topic{
		ID:          id,
		Name:        fields["name"],
		Owner:       fields["owner"],
		Subscribers: subs,
	}
}
