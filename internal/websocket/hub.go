package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"dreamhome-assistant/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const channelPrefix = "assistant_updates:"

// Hub fans conversation events out to every widget instance watching the
// same conversation. Events travel through redis pub/sub so multiple
// server instances stay in sync.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
	redisClient *redis.Client
	jwtSecret   []byte
	cancelFuncs map[string]context.CancelFunc
}

func NewHub(redisClient *redis.Client, jwtSecret string) *Hub {
	return &Hub{
		connections: make(map[string][]*websocket.Conn),
		redisClient: redisClient,
		jwtSecret:   []byte(jwtSecret),
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// Publish pushes one event onto the conversation's channel. Implements
// the engine's Publisher port.
func (h *Hub) Publish(conversationID string, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to encode event for %s: %v", conversationID, err)
		return
	}
	if err := h.redisClient.Publish(context.Background(), channelPrefix+conversationID, data).Err(); err != nil {
		log.Printf("failed to publish event for %s: %v", conversationID, err)
	}
}

// HandleWebSocket upgrades a widget connection. The widget token travels
// as a query param because browsers cannot set headers on a WS dial.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, _ := claims["conversation_id"].(string)
	if conversationID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.registerConnection(conversationID, conn)

	go func() {
		defer h.unregisterConnection(conversationID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conversationID] = append(h.connections[conversationID], conn)

	// First connection for this conversation starts its subscription.
	if len(h.connections[conversationID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[conversationID] = cancel
		go h.subscribeToPubSub(ctx, conversationID)
	}

	log.Printf("WebSocket connected: conversation %s (total: %d)", conversationID, len(h.connections[conversationID]))
}

func (h *Hub) unregisterConnection(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[conversationID]
	for i, c := range conns {
		if c == conn {
			h.connections[conversationID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[conversationID]) == 0 {
		delete(h.connections, conversationID)
		if cancel, ok := h.cancelFuncs[conversationID]; ok {
			cancel()
			delete(h.cancelFuncs, conversationID)
		}
	}

	log.Printf("WebSocket disconnected: conversation %s", conversationID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, conversationID string) {
	pubsub := h.redisClient.Subscribe(ctx, channelPrefix+conversationID)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(conversationID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(conversationID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[conversationID] {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}
