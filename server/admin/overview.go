// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ctfscore/server/store"
)

// OverviewStats 概览统计
type OverviewStats struct {
	Users       int `json:"users"`
	Teams       int `json:"teams"`
	Challenges  int `json:"challenges"`
	Submissions int `json:"submissions"`
	Solves      int `json:"solves"`
}

// Overview 后台概览统计
func (s *Service) Overview(ctx context.Context) (*OverviewStats, error) {
	var stats OverviewStats

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	stats.Users = len(users)

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	stats.Teams = len(teams)

	challenges, err := s.store.ListChallenges(ctx)
	if err != nil {
		return nil, err
	}
	stats.Challenges = len(challenges)
	for _, ch := range challenges {
		stats.Solves += len(ch.SolvedByUsers)
	}

	// 只取总数
	_, stats.Submissions, err = s.store.ListSubmissions(ctx, store.SubmissionFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// HandleAdminOverview 后台概览统计
func HandleAdminOverview(c *gin.Context, svc *Service) {
	stats, err := svc.Overview(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
