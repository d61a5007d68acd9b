package service

import (
	"context"
	"edurefund_backend/internal/model"
	"edurefund_backend/pkg/logger"
	"edurefund_backend/pkg/monitoring"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	shardCount     = 32
	sendBuffer     = 64

	MessageEnrollmentChanged = "ENROLLMENT_CHANGED"
	MessagePing              = "PING"
	MessagePong              = "PONG"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ChangeSubscriber 按学生订阅报名变更
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, learnerID string) (<-chan model.ChangeEvent, func(), error)
}

type NotifyClient struct {
	Hub       *NotifyHub
	Conn      *websocket.Conn
	Send      chan []byte
	LearnerID string
	Limiter   *rate.Limiter
	ready     chan struct{}
}

func (c *NotifyClient) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.ctx.Done():
		}
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	select {
	case <-c.ready:
	case <-c.Hub.ctx.Done():
		return
	}
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.String("learnerId", c.LearnerID))
			}
			break
		}

		if !c.Limiter.Allow() {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == MessagePing {
			pong, _ := json.Marshal(WSMessage{Type: MessagePong})
			c.Hub.send(c, pong)
		}
	}
}

func (c *NotifyClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// learnerTabs 同一学生打开的所有页面，共用一个存储订阅
type learnerTabs struct {
	clients map[*NotifyClient]struct{}
	cancel  func()
}

type notifyShard struct {
	learners map[string]*learnerTabs
	mu       sync.RWMutex
}

// NotifyHub 把报名变更推送给学生所有打开的页面，消费方收到后重新加载
type NotifyHub struct {
	shards     [shardCount]*notifyShard
	register   chan *NotifyClient
	unregister chan *NotifyClient
	Store      ChangeSubscriber
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewNotifyHub(store ChangeSubscriber) *NotifyHub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &NotifyHub{
		register:   make(chan *NotifyClient),
		unregister: make(chan *NotifyClient),
		Store:      store,
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &notifyShard{
			learners: make(map[string]*learnerTabs),
		}
	}
	return h
}

func (h *NotifyHub) getShard(learnerID string) *notifyShard {
	f := fnv.New32a()
	f.Write([]byte(learnerID))
	return h.shards[f.Sum32()%shardCount]
}

func (h *NotifyHub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case client := <-h.register:
			h.add(client)
			close(client.ready)
		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *NotifyHub) add(client *NotifyClient) {
	s := h.getShard(client.LearnerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	tabs, ok := s.learners[client.LearnerID]
	if !ok {
		events, cancel, err := h.Store.Subscribe(h.ctx, client.LearnerID)
		if err != nil {
			logger.Log.Error("Failed to subscribe to enrollment changes", zap.String("learnerId", client.LearnerID), zap.Error(err))
			close(client.Send)
			return
		}
		tabs = &learnerTabs{clients: make(map[*NotifyClient]struct{}), cancel: cancel}
		s.learners[client.LearnerID] = tabs
		go h.forward(client.LearnerID, events)
	}
	tabs.clients[client] = struct{}{}
	monitoring.NotifyConnections.Inc()
}

func (h *NotifyHub) remove(client *NotifyClient) {
	s := h.getShard(client.LearnerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	tabs, ok := s.learners[client.LearnerID]
	if !ok {
		return
	}
	if _, ok := tabs.clients[client]; !ok {
		return
	}
	delete(tabs.clients, client)
	close(client.Send)
	monitoring.NotifyConnections.Dec()

	// 最后一个页面关闭时取消订阅
	if len(tabs.clients) == 0 {
		tabs.cancel()
		delete(s.learners, client.LearnerID)
	}
}

func (h *NotifyHub) forward(learnerID string, events <-chan model.ChangeEvent) {
	for ev := range events {
		h.PushToLearner(learnerID, WSMessage{Type: MessageEnrollmentChanged, Data: ev})
	}
}

// send 只在连接仍登记时写入，Send 通道只会在分片写锁下关闭
func (h *NotifyHub) send(client *NotifyClient, payload []byte) bool {
	s := h.getShard(client.LearnerID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	tabs, ok := s.learners[client.LearnerID]
	if !ok {
		return false
	}
	if _, ok := tabs.clients[client]; !ok {
		return false
	}
	select {
	case client.Send <- payload:
		return true
	default:
		return false
	}
}

// PushToLearner 推送给该学生在本实例上的所有连接，发送缓冲满时丢弃
func (h *NotifyHub) PushToLearner(learnerID string, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Error("Failed to encode websocket message", zap.Error(err))
		return
	}

	s := h.getShard(learnerID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	tabs, ok := s.learners[learnerID]
	if !ok {
		return
	}
	for client := range tabs.clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// Connections 该学生在本实例上打开的连接数
func (h *NotifyHub) Connections(learnerID string) int {
	s := h.getShard(learnerID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tabs, ok := s.learners[learnerID]; ok {
		return len(tabs.clients)
	}
	return 0
}

// Stop 关闭所有连接并取消订阅
func (h *NotifyHub) Stop() {
	logger.Log.Info("NotifyHub stopping: closing connections...")
	h.cancel()

	closed := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.Lock()
		for learnerID, tabs := range s.learners {
			for client := range tabs.clients {
				close(client.Send)
				closed++
			}
			tabs.cancel()
			delete(s.learners, learnerID)
		}
		s.mu.Unlock()
	}

	monitoring.NotifyConnections.Set(0)
	logger.Log.Info("NotifyHub stopped", zap.Int("closedConnections", closed))
}

func ServeNotifyWs(hub *NotifyHub, w http.ResponseWriter, r *http.Request, learnerID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.String("learnerId", learnerID))
		return
	}
	client := &NotifyClient{
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		LearnerID: learnerID,
		Limiter:   rate.NewLimiter(rate.Limit(5), 10),
		ready:     make(chan struct{}),
	}

	select {
	case client.Hub.register <- client:
	case <-hub.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
