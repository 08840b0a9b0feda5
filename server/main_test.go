// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"ctfscore/server/config"
	"ctfscore/server/store"
)

type testServer struct {
	t *testing.T
	r *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8080, JWTSecret: "test-secret"},
		Submit: config.SubmitConfig{MaxRetries: 5},
	}
	a := newApp(cfg, store.NewMemoryStore(), nil)
	if err := a.admin.EnsureAdmin(context.Background(), "root", "rootpass", "Root"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	r := gin.New()
	a.routes(r)
	return &testServer{t: t, r: r}
}

func (s *testServer) do(method, path, token string, body any) (int, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	code, out := s.do(http.MethodPost, "/api/login", "", loginRequest{Username: username, Password: password})
	if code != http.StatusOK {
		s.t.Fatalf("login %s = %d %v", username, code, out)
	}
	return out["token"].(string)
}

func TestEndToEnd(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login("root", "rootpass")

	code, team := s.do(http.MethodPost, "/api/admin/teams", adminToken, map[string]any{"name": "red"})
	if code != http.StatusCreated {
		t.Fatalf("create team = %d %v", code, team)
	}
	code, out := s.do(http.MethodPost, "/api/admin/users", adminToken, map[string]any{
		"username": "alice", "password": "alicepw", "teamId": team["id"],
	})
	if code != http.StatusCreated {
		t.Fatalf("create user = %d %v", code, out)
	}
	code, ch := s.do(http.MethodPost, "/api/admin/challenges", adminToken, map[string]any{
		"name": "baby-web", "category": "web", "flag": "flag{e2e}",
		"scoringPolicy": "Linear", "initialValue": 500, "decayRate": 50, "minimumValue": 100,
	})
	if code != http.StatusCreated {
		t.Fatalf("create challenge = %d %v", code, ch)
	}

	userToken := s.login("alice", "alicepw")

	code, out = s.do(http.MethodPost, "/api/challenges/submit", userToken, map[string]any{"challengeId": ch["id"], "flag": "FLAG{E2E}"})
	if code != http.StatusOK || out["outcome"] != "Correct flag!" || out["pointsAwarded"] != float64(450) {
		t.Fatalf("submit = %d %v", code, out)
	}
	code, out = s.do(http.MethodPost, "/api/challenges/submit", userToken, map[string]any{"challengeId": ch["id"], "flag": "flag{e2e}"})
	if code != http.StatusBadRequest || out["error"] != "Challenge already solved by this user." {
		t.Errorf("duplicate = %d %v", code, out)
	}

	code, out = s.do(http.MethodGet, "/api/challenges", userToken, nil)
	if code != http.StatusOK {
		t.Fatalf("challenges = %d", code)
	}
	list := out["challenges"].([]any)
	first := list[0].(map[string]any)
	if first["currentValue"] != float64(400) || first["solved"] != true {
		t.Errorf("public challenge = %v", first)
	}
	if _, leaked := first["flag"]; leaked {
		t.Error("flag leaked to players")
	}

	code, out = s.do(http.MethodGet, "/api/scoreboard", "", nil)
	board := out["scoreboard"].([]any)
	if code != http.StatusOK || board[0].(map[string]any)["pointsTotal"] != float64(450) {
		t.Errorf("scoreboard = %d %v", code, out)
	}
}

func TestAuthGuards(t *testing.T) {
	s := newTestServer(t)

	if code, _ := s.do(http.MethodGet, "/api/challenges", "", nil); code != http.StatusUnauthorized {
		t.Errorf("no token = %d", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/challenges", "garbage", nil); code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/login", "", loginRequest{Username: "root", Password: "wrong"}); code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/login", "", loginRequest{Username: "nobody", Password: "x"}); code != http.StatusUnauthorized {
		t.Errorf("unknown user = %d", code)
	}

	adminToken := s.login("root", "rootpass")
	s.do(http.MethodPost, "/api/admin/users", adminToken, map[string]any{"username": "bob", "password": "bobpass"})
	userToken := s.login("bob", "bobpass")
	if code, _ := s.do(http.MethodGet, "/api/admin/submissions", userToken, nil); code != http.StatusForbidden {
		t.Errorf("player on admin route = %d", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/admin/submissions", adminToken, nil); code != http.StatusOK {
		t.Errorf("admin on admin route = %d", code)
	}
	code, out := s.do(http.MethodGet, "/api/admin/overview", adminToken, nil)
	if code != http.StatusOK || out["users"] != float64(2) {
		t.Errorf("overview = %d %v", code, out)
	}
}
