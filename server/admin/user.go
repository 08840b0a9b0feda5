// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"ctfscore/server/store"
)

// 角色
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	TeamID      *int64 `json:"teamId"`
	Role        string `json:"role"`
}

// CreateUser 创建用户，总分从0开始
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*store.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(req.Password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}
	switch req.Role {
	case "":
		req.Role = RoleUser
	case RoleUser, RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &store.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		PasswordHash: string(hash),
		TeamID:       req.TeamID,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	log.Printf("[Admin] created user %d %q role=%s", u.ID, u.Username, u.Role)
	return u, nil
}

// ListUsers 所有用户
func (s *Service) ListUsers(ctx context.Context) ([]*store.User, error) {
	return s.store.ListUsers(ctx)
}

// EnsureAdmin 启动时确保管理员账户存在
func (s *Service) EnsureAdmin(ctx context.Context, username, password, displayName string) error {
	if username == "" || password == "" {
		return nil
	}
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		if existing.Role != RoleAdmin {
			log.Printf("[Admin] warning: user %q exists but is not an admin", username)
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = s.CreateUser(ctx, CreateUserRequest{
		Username:    username,
		DisplayName: displayName,
		Password:    password,
		Role:        RoleAdmin,
	})
	return err
}

// HandleCreateUser 创建用户
func HandleCreateUser(c *gin.Context, svc *Service) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	u, err := svc.CreateUser(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// HandleListUsers 用户列表
func HandleListUsers(c *gin.Context, svc *Service) {
	list, err := svc.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": list})
}
