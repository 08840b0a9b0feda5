// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package monitor

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// 事件类型
const (
	EventSolve      = "solve"
	EventFirstBlood = "first_blood"
)

// Event 实时排行榜事件
type Event struct {
	Type          string `json:"type"` // solve, first_blood
	ChallengeID   int64  `json:"challengeId"`
	ChallengeName string `json:"challengeName"`
	UserID        int64  `json:"userId"`
	UserName      string `json:"userName"`
	TeamID        int64  `json:"teamId"`
	TeamName      string `json:"teamName"`
	PointsAwarded int    `json:"pointsAwarded"`
	CurrentValue  int    `json:"currentValue"` // 题目的新分值
	Time          string `json:"time"`
}

// Hub WebSocket 连接管理
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	secret   []byte
}

// NewHub 创建广播中心，secret 用于校验连接时携带的 token
func NewHub(secret []byte) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		secret: secret,
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 实时排行榜推送（token 通过 URL 参数传递）
func (h *Hub) HandleWebSocket(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// 保持连接，等待客户端断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Publish 广播事件，写失败的连接直接移除
func (h *Hub) Publish(e Event) {
	if e.Time == "" {
		e.Time = time.Now().Format("2006-01-02 15:04:05")
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	log.Printf("[Monitor] publish %s: challenge=%d team=%s clients=%d", e.Type, e.ChallengeID, e.TeamName, n)
	if n == 0 {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
	h.mu.Unlock()
}
