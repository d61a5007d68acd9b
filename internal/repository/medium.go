package repository

import "context"

// Medium 持久化键值存储介质，通过版本号支持比较并交换
type Medium interface {
	// Get 键不存在时 found 为 false，版本号为 0
	Get(ctx context.Context, key string) (value []byte, version int64, found bool, err error)
	// CompareAndSwap 仅当当前版本等于 expected 时写入并返回新版本，否则返回 util.ErrVersionConflict
	CompareAndSwap(ctx context.Context, key string, expected int64, value []byte) (int64, error)
	Ping(ctx context.Context) error
}

// Broker 变更通知的发布订阅，至少一次、尽力而为
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
