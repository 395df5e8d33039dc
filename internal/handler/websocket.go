package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/events"
	"github.com/geobank/branches-backend/internal/geo"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 1024
	wsSendBuffer     = 64
)

// Hub раздает события реестра подключенным WebSocket клиентам.
// Реализует events.Sink: публикация регистрации превращается в кадр
// {"type":"BRANCH_REGISTERED","data":{...}} для всех клиентов, чья
// подписка покрывает координаты события.
type Hub struct {
	upgrader websocket.Upgrader
	config   *config.PerformanceConfig
	logger   *logrus.Entry

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

var _ events.Sink = (*Hub)(nil)

// wsClient одно WebSocket соединение с параметрами подписки.
// Подписка без координат получает все события.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.RWMutex
	center   models.GeoPoint
	radiusKm float64
	filtered bool
}

// NewHub создает пустой hub
func NewHub(cfg *config.PerformanceConfig, logger *logrus.Entry) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Добавить проверку Origin для production
				return true
			},
		},
		config:  cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleWebSocket обрабатывает подключение клиента. Параметры lat, lon
// и radius задают подписку на регион, без них клиент получает все
// события реестра
// GET /api/v1/ws?lat=-23.55&lon=-46.63&radius=50
func (h *Hub) HandleWebSocket(c *gin.Context) {
	var (
		center   models.GeoPoint
		radiusKm float64
		filtered bool
	)

	if c.Query("lat") != "" || c.Query("lon") != "" || c.Query("radius") != "" {
		lat, err := parseCoordinate(c.Query("lat"), -90, 90)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("lat %s", err))
			return
		}

		lon, err := parseCoordinate(c.Query("lon"), -180, 180)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("lon %s", err))
			return
		}

		radius, err := parseRadius(c.Query("radius"))
		if err != nil || radius <= 0 {
			writeError(c, http.StatusBadRequest, codeInvalidInput, "radius must be a positive number of kilometers")
			return
		}

		center = models.GeoPoint{Latitude: lat, Longitude: lon}
		radiusKm = radius
		filtered = true
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		hub:      h,
		center:   center,
		radiusKm: radiusKm,
		filtered: filtered,
	}

	h.register(client)
	metrics.WebSocketConnections.Inc()

	h.logger.WithFields(logrus.Fields{
		"client_ip": c.ClientIP(),
		"filtered":  filtered,
		"radius_km": radiusKm,
	}).Info("WebSocket client connected")

	go client.writePump(h.config.WebSocketPingInterval)
	go client.readPump(h.config.WebSocketPongTimeout)
}

// Publish реализует events.Sink. Кадр уходит всем клиентам, чья
// подписка покрывает координаты события; переполненный буфер медленного
// клиента приводит к потере кадра, рассылка не блокируется.
func (h *Hub) Publish(ctx context.Context, event models.DomainEvent) error {
	registered, ok := event.(models.BranchRegisteredEvent)
	if !ok {
		// Клиентам транслируются только регистрации
		return nil
	}

	frame, err := json.Marshal(map[string]interface{}{
		"type": registered.EventType,
		"data": registered,
	})
	if err != nil {
		return err
	}

	location := models.GeoPoint{Latitude: registered.Latitude, Longitude: registered.Longitude}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.covers(location) {
			continue
		}
		select {
		case client.send <- frame:
			metrics.WebSocketMessagesOut.WithLabelValues("event").Inc()
		default:
			metrics.WebSocketErrors.Inc()
		}
	}
	return nil
}

// ClientCount возвращает число подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

// unregister закрывает канал отправки под write-блокировкой. Publish
// пишет в канал только под read-блокировкой, поэтому записи в закрытый
// канал исключены.
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// covers проверяет, попадает ли точка в подписку клиента
func (c *wsClient) covers(p models.GeoPoint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filtered {
		return true
	}
	return geo.Distance(c.center.Latitude, c.center.Longitude, p.Latitude, p.Longitude) <= c.radiusKm
}

// readPump читает входящие кадры клиента: обновления подписки и pong
func (c *wsClient) readPump(pongTimeout time.Duration) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		metrics.WebSocketConnections.Dec()
		c.hub.logger.Debug("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.WithField("error", err).Debug("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump отправляет кадры клиенту и поддерживает соединение ping-ами
func (c *wsClient) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("ping").Inc()
		}
	}
}

// handleMessage обрабатывает кадры клиента. Поддерживается смена
// подписки {"type":"subscribe","lat":...,"lon":...,"radius":...}
func (c *wsClient) handleMessage(message []byte) {
	var req struct {
		Type   string  `json:"type"`
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
		Radius float64 `json:"radius"`
	}
	if err := json.Unmarshal(message, &req); err != nil || req.Type != "subscribe" {
		return
	}

	if req.Lat < -90 || req.Lat > 90 || req.Lon < -180 || req.Lon > 180 || req.Radius <= 0 {
		c.hub.logger.Warn("Invalid subscription parameters")
		return
	}

	c.mu.Lock()
	c.center = models.GeoPoint{Latitude: req.Lat, Longitude: req.Lon}
	c.radiusKm = req.Radius
	c.filtered = true
	c.mu.Unlock()

	c.hub.logger.WithFields(logrus.Fields{
		"lat":       req.Lat,
		"lon":       req.Lon,
		"radius_km": req.Radius,
	}).Debug("Client subscription updated")
}
