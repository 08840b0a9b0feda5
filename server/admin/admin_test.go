// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"ctfscore/server/store"
)

func TestCreateTeamAndUser(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, " red ")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if team.Name != "red" || team.PointsTotal != 0 {
		t.Errorf("team = %+v", team)
	}
	if _, err := svc.CreateTeam(ctx, "red"); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate team err = %v", err)
	}
	if _, err := svc.CreateTeam(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty team err = %v", err)
	}

	u, err := svc.CreateUser(ctx, CreateUserRequest{Username: "alice", Password: "secret1", TeamID: &team.ID})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Role != RoleUser || u.DisplayName != "alice" || u.PointsTotal != 0 {
		t.Errorf("user = %+v", u)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")) != nil {
		t.Error("password hash does not verify")
	}

	tests := []struct {
		name string
		req  CreateUserRequest
		want error
	}{
		{"short password", CreateUserRequest{Username: "bob", Password: "123"}, ErrInvalidInput},
		{"bad role", CreateUserRequest{Username: "bob", Password: "secret1", Role: "root"}, ErrInvalidInput},
		{"duplicate", CreateUserRequest{Username: "alice", Password: "secret1"}, store.ErrDuplicate},
		{"unknown team", CreateUserRequest{Username: "bob", Password: "secret1", TeamID: new(int64)}, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateUser(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnsureAdmin(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)
	ctx := context.Background()

	if err := svc.EnsureAdmin(ctx, "", "", ""); err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root", "toor123", "Root"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	// 重启时不重复创建
	if err := svc.EnsureAdmin(ctx, "root", "toor123", "Root"); err != nil {
		t.Fatalf("EnsureAdmin again: %v", err)
	}
	users, _ := st.ListUsers(ctx)
	if len(users) != 1 || users[0].Role != RoleAdmin || users[0].DisplayName != "Root" {
		t.Errorf("users = %+v", users)
	}
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(store.NewMemoryStore())
	r := gin.New()
	r.POST("/teams", func(c *gin.Context) { HandleCreateTeam(c, svc) })
	r.GET("/teams", func(c *gin.Context) { HandleListTeams(c, svc) })
	r.POST("/users", func(c *gin.Context) { HandleCreateUser(c, svc) })

	post := func(path string, body any) *httptest.ResponseRecorder {
		data, _ := json.Marshal(body)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data)))
		return w
	}

	if w := post("/teams", CreateTeamRequest{Name: "red"}); w.Code != http.StatusCreated {
		t.Fatalf("create team = %d", w.Code)
	}
	if w := post("/teams", CreateTeamRequest{Name: "red"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate team = %d", w.Code)
	}
	teamID := int64(1)
	w := post("/users", CreateUserRequest{Username: "alice", Password: "secret1", TeamID: &teamID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user = %d %s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("secret1")) || bytes.Contains(w.Body.Bytes(), []byte("$2a$")) {
		t.Error("password or hash leaked in response")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teams", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"red"`)) {
		t.Errorf("list teams = %d %s", w.Code, w.Body.String())
	}
}
