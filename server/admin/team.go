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

	"ctfscore/server/store"
)

// ErrInvalidInput 请求参数非法
var ErrInvalidInput = errors.New("invalid input")

// Service 用户和队伍管理
type Service struct {
	store store.Store
}

// NewService 创建管理服务
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// CreateTeamRequest 创建队伍请求
type CreateTeamRequest struct {
	Name string `json:"name"`
}

// CreateTeam 创建队伍，总分从0开始
func (s *Service) CreateTeam(ctx context.Context, name string) (*store.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	t := &store.Team{Name: name}
	if err := s.store.CreateTeam(ctx, t); err != nil {
		return nil, err
	}
	log.Printf("[Admin] created team %d %q", t.ID, t.Name)
	return t, nil
}

// ListTeams 所有队伍
func (s *Service) ListTeams(ctx context.Context) ([]*store.Team, error) {
	return s.store.ListTeams(ctx)
}

// writeError 参数错误400，重名409，关联不存在404
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("[Admin] error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
	}
}

// HandleCreateTeam 创建队伍
func HandleCreateTeam(c *gin.Context, svc *Service) {
	var req CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	t, err := svc.CreateTeam(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// HandleListTeams 队伍列表
func HandleListTeams(c *gin.Context, svc *Service) {
	list, err := svc.ListTeams(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": list})
}
