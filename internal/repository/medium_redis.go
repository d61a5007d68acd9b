package repository

import (
	"context"
	"edurefund_backend/internal/util"
	"edurefund_backend/pkg/logger"
	"errors"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	fieldValue   = "value"
	fieldVersion = "version"
)

// RedisMedium 每个键保存为 hash {value, version}，写入通过 WATCH/MULTI/EXEC 实现比较并交换
type RedisMedium struct {
	Redis *redis.Client
}

func NewRedisMedium(rdb *redis.Client) *RedisMedium {
	return &RedisMedium{Redis: rdb}
}

func (m *RedisMedium) Get(ctx context.Context, key string) ([]byte, int64, bool, error) {
	vals, err := m.Redis.HMGet(ctx, key, fieldValue, fieldVersion).Result()
	if err != nil {
		return nil, 0, false, err
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, 0, false, nil
	}

	value, _ := vals[0].(string)
	versionStr, _ := vals[1].(string)
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return nil, 0, false, err
	}
	return []byte(value), version, true, nil
}

func (m *RedisMedium) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	next := expected + 1

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expected {
			return util.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldValue, value, fieldVersion, next)
			return nil
		})
		return err
	}

	err := m.Redis.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, util.ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (m *RedisMedium) Ping(ctx context.Context) error {
	return m.Redis.Ping(ctx).Err()
}

// RedisBroker 基于 Redis Pub/Sub，多实例部署时跨进程通知
type RedisBroker struct {
	Redis *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{Redis: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.Redis.Publish(ctx, topic, payload).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan []byte
	once   sync.Once
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.Redis.Subscribe(ctx, topic)
	// 等待订阅确认，避免订阅建立前发布的消息丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan []byte, subscriptionBuffer),
	}

	go func() {
		defer close(sub.ch)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case sub.ch <- []byte(msg.Payload):
				default:
					logger.Log.Warn("dropping change notification for slow subscriber", zap.String("topic", topic))
				}
			}
		}
	}()

	return sub, nil
}
