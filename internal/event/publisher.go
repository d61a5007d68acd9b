package event

import (
	"context"
	"edurefund_backend/internal/model"
	"edurefund_backend/pkg/logger"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultExchange = "enrollment.events"

// Publisher 将报名变更事件发布给下游（例如实际执行退款的支付服务）
type Publisher interface {
	PublishEnrollmentEvent(ctx context.Context, event *model.ChangeEvent) error
	Close() error
}

type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	enabled  bool
	mu       sync.Mutex
}

// NewRabbitPublisher URI 为空时返回禁用状态的发布器
func NewRabbitPublisher(rabbitURI, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if rabbitURI == "" {
		logger.Log.Warn("RabbitMQ URI is empty, enrollment event publishing is disabled")
		return &RabbitPublisher{exchange: exchange}, nil
	}

	conn, err := amqp.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Log.Info("Enrollment event publisher initialized", zap.String("exchange", exchange))
	return &RabbitPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		enabled:  true,
	}, nil
}

func (p *RabbitPublisher) Enabled() bool {
	return p.enabled
}

// PublishEnrollmentEvent 路由键为事件类型
func (p *RabbitPublisher) PublishEnrollmentEvent(ctx context.Context, event *model.ChangeEvent) error {
	if !p.enabled {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,         // exchange
		string(event.Kind), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
			Headers: amqp.Table{
				"event_type": string(event.Kind),
				"learner_id": event.LearnerID,
				"course_id":  event.CourseID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	logger.Log.Debug("Published enrollment event",
		zap.String("kind", string(event.Kind)),
		zap.String("learnerId", event.LearnerID),
		zap.String("courseId", event.CourseID))
	return nil
}

func (p *RabbitPublisher) Close() error {
	if !p.enabled {
		return nil
	}

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			logger.Log.Warn("Error closing RabbitMQ channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("error closing RabbitMQ connection: %w", err)
		}
	}
	return nil
}

// MockPublisher 测试用，记录发布过的事件
type MockPublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	Err    error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishEnrollmentEvent(ctx context.Context, event *model.ChangeEvent) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

func (m *MockPublisher) Events() []model.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ChangeEvent, len(m.events))
	copy(out, m.events)
	return out
}
