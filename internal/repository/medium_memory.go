package repository

import (
	"context"
	"edurefund_backend/internal/util"
	"sync"
)

type memoryEntry struct {
	value   []byte
	version int64
}

// MemoryMedium 进程内存储，用于测试和单实例部署
type MemoryMedium struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{entries: make(map[string]memoryEntry)}
}

func (m *MemoryMedium) Get(ctx context.Context, key string) ([]byte, int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, 0, false, nil
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, e.version, true, nil
}

func (m *MemoryMedium) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[key].version != expected {
		return 0, util.ErrVersionConflict
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	next := expected + 1
	m.entries[key] = memoryEntry{value: stored, version: next}
	return next, nil
}

func (m *MemoryMedium) Ping(ctx context.Context) error {
	return ctx.Err()
}

const subscriptionBuffer = 64

// MemoryBroker 进程内发布订阅
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs[s.topic], s)
		if len(s.broker.subs[s.topic]) == 0 {
			delete(s.broker.subs, s.topic)
		}
		close(s.ch)
		close(s.done)
		s.broker.mu.Unlock()
	})
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[topic] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case sub.ch <- msg:
		default:
			// 订阅方消费过慢时丢弃，消费方总是重新加载
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		ch:     make(chan []byte, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySubscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}
