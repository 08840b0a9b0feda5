// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package question

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ctfscore/server/scoring"
	"ctfscore/server/store"
)

var (
	// ErrInvalidChallenge 名称或 flag 为空
	ErrInvalidChallenge = errors.New("invalid challenge")
	// ErrChallengeNotFound 题目不存在
	ErrChallengeNotFound = errors.New("challenge not found")
)

// ChallengeRequest 创建/更新题目请求，也是 YAML 导入的单条格式
type ChallengeRequest struct {
	Name          string `json:"name" yaml:"name"`
	Category      string `json:"category" yaml:"category"`
	Flag          string `json:"flag" yaml:"flag"`
	ScoringPolicy string `json:"scoringPolicy" yaml:"scoringPolicy"`
	InitialValue  int    `json:"initialValue" yaml:"initialValue"`
	DecayRate     int    `json:"decayRate" yaml:"decayRate"`
	MinimumValue  int    `json:"minimumValue" yaml:"minimumValue"`
}

// PublicChallenge 公开题目信息（不包含flag）
type PublicChallenge struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	Category         string         `json:"category"`
	ScoringPolicy    scoring.Policy `json:"scoringPolicy"`
	CurrentValue     int            `json:"currentValue"`
	SolveCount       int            `json:"solveCount"`
	FirstBloodTeamID *int64         `json:"firstBloodTeamId"`
	Solved           bool           `json:"solved"`
}

// validate 校验并转换为计分参数
func (r *ChallengeRequest) validate() (scoring.Params, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Category = strings.TrimSpace(r.Category)
	if r.Name == "" {
		return scoring.Params{}, fmt.Errorf("%w: name is required", ErrInvalidChallenge)
	}
	if strings.TrimSpace(r.Flag) == "" {
		return scoring.Params{}, fmt.Errorf("%w: flag is required", ErrInvalidChallenge)
	}
	policy, err := scoring.ParsePolicy(r.ScoringPolicy)
	if err != nil {
		return scoring.Params{}, err
	}
	p := scoring.Params{
		Policy:       policy,
		InitialValue: r.InitialValue,
		DecayRate:    r.DecayRate,
		MinimumValue: r.MinimumValue,
	}
	if err := scoring.Validate(p); err != nil {
		return scoring.Params{}, err
	}
	return p, nil
}

// Service 题目管理
type Service struct {
	store store.Store
}

// NewService 创建题目管理服务
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Create 创建题目，currentValue 初始化为第一位解题者的分值
func (s *Service) Create(ctx context.Context, req ChallengeRequest) (*store.Challenge, error) {
	p, err := req.validate()
	if err != nil {
		return nil, err
	}
	ch := &store.Challenge{
		Name:         req.Name,
		Category:     req.Category,
		Flag:         req.Flag,
		Params:       p,
		CurrentValue: scoring.Award(p, 1),
	}
	if err := s.store.CreateChallenge(ctx, ch); err != nil {
		return nil, err
	}
	log.Printf("[Question] created challenge %d %q policy=%s value=%d", ch.ID, ch.Name, p.Policy, ch.CurrentValue)
	return ch, nil
}

// Update 整体替换题目定义；已有解题时新的分值不得高于当前分值，解题记录不变
func (s *Service) Update(ctx context.Context, id int64, req ChallengeRequest) (*store.Challenge, error) {
	p, err := req.validate()
	if err != nil {
		return nil, err
	}

	var updated *store.Challenge
	err = s.store.WithChallengeLock(ctx, id, func(tx store.ChallengeTx) error {
		cur := tx.Challenge()
		solved := len(cur.SolvedByUsers)
		next := scoring.Next(p, solved)
		if solved > 0 && next > cur.CurrentValue {
			return fmt.Errorf("%w: new parameters would raise the current value from %d to %d after %d solves",
				scoring.ErrConfiguration, cur.CurrentValue, next, solved)
		}

		def := cur.Clone()
		def.Name = req.Name
		def.Category = req.Category
		def.Flag = req.Flag
		def.Params = p
		def.CurrentValue = next
		if err := tx.UpdateDefinition(def); err != nil {
			return err
		}
		updated = tx.Challenge().Clone()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[Question] updated challenge %d policy=%s value=%d", id, p.Policy, updated.CurrentValue)
	return updated, nil
}

// Get 题目详情（含 flag）
func (s *Service) Get(ctx context.Context, id int64) (*store.Challenge, error) {
	ch, err := s.store.GetChallenge(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	return ch, err
}

// List 所有题目（含 flag）
func (s *Service) List(ctx context.Context) ([]*store.Challenge, error) {
	return s.store.ListChallenges(ctx)
}

// ListPublic 选手可见的题目列表，userID 用于标记是否已解出
func (s *Service) ListPublic(ctx context.Context, userID int64) ([]PublicChallenge, error) {
	challenges, err := s.store.ListChallenges(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]PublicChallenge, 0, len(challenges))
	for _, ch := range challenges {
		pc := PublicChallenge{
			ID:            ch.ID,
			Name:          ch.Name,
			Category:      ch.Category,
			ScoringPolicy: ch.Policy,
			CurrentValue:  ch.CurrentValue,
			SolveCount:    len(ch.SolvedByUsers),
			Solved:        ch.HasUser(userID),
		}
		if fb := ch.FirstBlood(); fb != nil {
			id := fb.ID
			pc.FirstBloodTeamID = &id
		}
		list = append(list, pc)
	}
	return list, nil
}

// writeError 校验错误返回400，不存在返回404
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scoring.ErrConfiguration), errors.Is(err, ErrInvalidChallenge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found."})
	default:
		log.Printf("[Question] error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid challenge id."})
		return 0, false
	}
	return id, true
}

// HandleCreateChallenge 创建题目
func HandleCreateChallenge(c *gin.Context, svc *Service) {
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	ch, err := svc.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

// HandleUpdateChallenge 更新题目
func HandleUpdateChallenge(c *gin.Context, svc *Service) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	ch, err := svc.Update(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// HandleGetChallenge 题目详情（管理员）
func HandleGetChallenge(c *gin.Context, svc *Service) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ch, err := svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// HandleListChallenges 题目列表（管理员）
func HandleListChallenges(c *gin.Context, svc *Service) {
	list, err := svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list})
}

// HandlePublicChallenges 题目列表（选手，不返回flag）
func HandlePublicChallenges(c *gin.Context, svc *Service) {
	list, err := svc.ListPublic(c.Request.Context(), c.GetInt64("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list})
}
