package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/pool"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// 帧丢弃原因
const (
	DropNoReference = "no_reference"
	DropMalformed   = "malformed"
	DropBusy        = "busy"
	DropBlocked     = "blocked"
)

// Observer 接收 Hub 的观测数据
type Observer interface {
	ClientConnected()
	ClientDisconnected()
	ObserveOperation(opType, outcome string)
	RateLimited()
	FrameDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) ClientConnected()                {}
func (nopObserver) ClientDisconnected()             {}
func (nopObserver) ObserveOperation(string, string) {}
func (nopObserver) RateLimited()                    {}
func (nopObserver) FrameDropped(string)             {}

// Options Hub 配置
type Options struct {
	AllowedOrigins []string // 允许的 Origin 列表，"*" 表示全部
	Workers        int      // 请求处理协程数
	QueueSize      int      // 待处理请求队列长度
	Rate           float64  // 每个连接每秒请求数，0 表示不限
	Burst          int
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 非浏览器客户端
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	limiter *rate.Limiter
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Hub 管理所有WebSocket连接，分发请求并广播变更
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex

	dispatcher *Dispatcher
	workers    *pool.WorkerPool
	opts       Options
	observer   Observer
	log        *zap.Logger
}

// NewHub 创建WebSocket Hub
func NewHub(dispatcher *Dispatcher, opts Options, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		dispatcher: dispatcher,
		workers:    pool.NewWorkerPool(opts.Workers, opts.QueueSize, log),
		opts:       opts,
		observer:   nopObserver{},
		log:        log,
	}
}

// SetObserver 设置观测回调，需在 Run 之前调用
func (h *Hub) SetObserver(observer Observer) {
	if observer == nil {
		observer = nopObserver{}
	}
	h.observer = observer
}

// Workers 返回请求处理协程池
func (h *Hub) Workers() *pool.WorkerPool {
	return h.workers
}

// Run 启动Hub，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	h.workers.Start(ctx)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			h.workers.Stop()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.observer.ClientConnected()
			h.log.Info("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.close()
				h.observer.ClientDisconnected()
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.broadcastAll(data)
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AliasesUpdated 向所有客户端推送完整记录列表
func (h *Hub) AliasesUpdated(records []domain.AliasRecord) {
	data, err := json.Marshal(&Response{Type: TypeUpdated, Result: nonNil(records)})
	if err != nil {
		h.log.Error("failed to marshal update", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.log.Warn("broadcast queue full, dropping update", zap.Int("records", len(records)))
	}
}

// broadcastAll 向所有客户端广播消息
func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.trySend(data) {
			h.observer.FrameDropped(DropBlocked)
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.close()
		h.observer.ClientDisconnected()
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.opts.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(h.opts.Rate), h.opts.Burst)
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.opts.AllowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:      uuid.NewString(),
			conn:    conn,
			send:    make(chan []byte, sendBufferSize),
			hub:     hub,
			limiter: hub.newLimiter(),
			log:     hub.log,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 读取并分发客户端请求
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame 解析请求帧并提交到协程池
func (c *Client) handleFrame(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.hub.observer.FrameDropped(DropMalformed)
		c.sendResponse(&Response{Type: TypeError, Error: "malformed message: " + err.Error()})
		return
	}

	if !req.HasReference() {
		c.hub.observer.FrameDropped(DropNoReference)
		c.log.Debug("dropping frame without reference", zap.String("clientID", c.ID), zap.String("type", req.Type))
		return
	}

	if !c.limiter.Allow() {
		c.hub.observer.RateLimited()
		c.sendResponse(&Response{Type: TypeResult, Reference: req.Reference, Error: "rate limit exceeded"})
		return
	}

	err := c.hub.workers.TrySubmit(func(ctx context.Context) {
		resp, outcome := c.hub.dispatcher.Dispatch(ctx, &req)
		c.hub.observer.ObserveOperation(req.Type, outcome)
		c.sendResponse(resp)
	})
	if err != nil {
		c.hub.observer.FrameDropped(DropBusy)
		c.log.Warn("request rejected", zap.String("clientID", c.ID), zap.Error(err))
		c.sendResponse(&Response{Type: TypeResult, Reference: req.Reference, Error: "server busy"})
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendResponse 发送响应给客户端
func (c *Client) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	if !c.trySend(data) {
		c.hub.observer.FrameDropped(DropBlocked)
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

// trySend 非阻塞发送，连接已关闭或缓冲区已满时返回 false
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close 关闭发送通道
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
