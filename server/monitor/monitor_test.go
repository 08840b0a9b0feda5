// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, secret []byte) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 1,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestHubRejectsMissingToken(t *testing.T) {
	hub := NewHub([]byte("secret"))
	srv := newTestServer(t, hub)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHubPublish(t *testing.T) {
	secret := []byte("secret")
	hub := NewHub(secret)
	srv := newTestServer(t, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + signToken(t, secret)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(Event{Type: EventFirstBlood, ChallengeID: 7, TeamName: "red", PointsAwarded: 450})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventFirstBlood || got.ChallengeID != 7 || got.PointsAwarded != 450 || got.Time == "" {
		t.Errorf("event = %+v", got)
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub([]byte("secret"))
	hub.Publish(Event{Type: EventSolve})
	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d", hub.ClientCount())
	}
}
