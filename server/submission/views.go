// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package submission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ctfscore/server/store"
)

// SolveView 解题记录（带名称）
type SolveView struct {
	Order         int       `json:"order"`
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Time          time.Time `json:"time"`
	PointsAwarded int       `json:"pointsAwarded"`
}

// ChallengeSolves 单题解题情况
type ChallengeSolves struct {
	ChallengeID   int64       `json:"challengeId"`
	ChallengeName string      `json:"challengeName"`
	CurrentValue  int         `json:"currentValue"`
	SolvedByUsers []SolveView `json:"solvedByUsers"`
	SolvedByTeams []SolveView `json:"solvedByTeams"`
	FirstBlood    *SolveView  `json:"firstBlood"`
}

// TeamStanding 队伍排行
type TeamStanding struct {
	Rank            int        `json:"rank"`
	TeamID          int64      `json:"teamId"`
	Name            string     `json:"name"`
	PointsTotal     int        `json:"pointsTotal"`
	FirstBloodCount int        `json:"firstBloodCount"`
	LastSolveAt     *time.Time `json:"lastSolveAt"`
}

// UserStanding 个人排行
type UserStanding struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	TeamID      *int64 `json:"teamId"`
	TeamName    string `json:"teamName"`
	PointsTotal int    `json:"pointsTotal"`
}

// GetChallengeSolves 按解题顺序返回个人/队伍解题记录
func (s *Service) GetChallengeSolves(ctx context.Context, challengeID int64) (*ChallengeSolves, error) {
	ch, err := s.store.GetChallenge(ctx, challengeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}

	userNames, teamNames, err := s.names(ctx)
	if err != nil {
		return nil, err
	}

	view := &ChallengeSolves{
		ChallengeID:   ch.ID,
		ChallengeName: ch.Name,
		CurrentValue:  ch.CurrentValue,
		SolvedByUsers: make([]SolveView, 0, len(ch.SolvedByUsers)),
		SolvedByTeams: make([]SolveView, 0, len(ch.SolvedByTeams)),
	}
	for i, e := range ch.SolvedByUsers {
		view.SolvedByUsers = append(view.SolvedByUsers, SolveView{Order: i + 1, ID: e.ID, Name: userNames[e.ID], Time: e.Time, PointsAwarded: e.PointsAwarded})
	}
	for i, e := range ch.SolvedByTeams {
		view.SolvedByTeams = append(view.SolvedByTeams, SolveView{Order: i + 1, ID: e.ID, Name: teamNames[e.ID], Time: e.Time, PointsAwarded: e.PointsAwarded})
	}
	if len(view.SolvedByTeams) > 0 {
		fb := view.SolvedByTeams[0]
		view.FirstBlood = &fb
	}
	return view, nil
}

func (s *Service) names(ctx context.Context) (map[int64]string, map[int64]string, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list users: %w", err)
	}
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list teams: %w", err)
	}
	userNames := make(map[int64]string, len(users))
	for _, u := range users {
		userNames[u.ID] = u.DisplayName
	}
	teamNames := make(map[int64]string, len(teams))
	for _, t := range teams {
		teamNames[t.ID] = t.Name
	}
	return userNames, teamNames, nil
}

// TeamScoreboard 队伍排行：总分降序，同分时最后一次解题更早者在前
func (s *Service) TeamScoreboard(ctx context.Context) ([]TeamStanding, error) {
	var cached []TeamStanding
	if s.cache.GetScoreboard(ctx, "teams", &cached) {
		return cached, nil
	}

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(teams, func(i, j int) bool {
		a, b := teams[i], teams[j]
		if a.PointsTotal != b.PointsTotal {
			return a.PointsTotal > b.PointsTotal
		}
		if a.LastSolveAt.IsZero() != b.LastSolveAt.IsZero() {
			return !a.LastSolveAt.IsZero()
		}
		if !a.LastSolveAt.Equal(b.LastSolveAt) {
			return a.LastSolveAt.Before(b.LastSolveAt)
		}
		return a.ID < b.ID
	})

	board := make([]TeamStanding, 0, len(teams))
	for i, t := range teams {
		st := TeamStanding{
			Rank:            i + 1,
			TeamID:          t.ID,
			Name:            t.Name,
			PointsTotal:     t.PointsTotal,
			FirstBloodCount: t.FirstBloodCount,
		}
		if !t.LastSolveAt.IsZero() {
			at := t.LastSolveAt
			st.LastSolveAt = &at
		}
		board = append(board, st)
	}

	s.cache.SetScoreboard(ctx, "teams", board)
	return board, nil
}

// UserScoreboard 个人排行（不含管理员）
func (s *Service) UserScoreboard(ctx context.Context) ([]UserStanding, error) {
	var cached []UserStanding
	if s.cache.GetScoreboard(ctx, "users", &cached) {
		return cached, nil
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	_, teamNames, err := s.names(ctx)
	if err != nil {
		return nil, err
	}

	players := make([]*store.User, 0, len(users))
	for _, u := range users {
		if u.Role == "admin" {
			continue
		}
		players = append(players, u)
	}
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].PointsTotal != players[j].PointsTotal {
			return players[i].PointsTotal > players[j].PointsTotal
		}
		return players[i].ID < players[j].ID
	})

	board := make([]UserStanding, 0, len(players))
	for i, u := range players {
		st := UserStanding{
			Rank:        i + 1,
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			TeamID:      u.TeamID,
			PointsTotal: u.PointsTotal,
		}
		if u.TeamID != nil {
			st.TeamName = teamNames[*u.TeamID]
		}
		board = append(board, st)
	}

	s.cache.SetScoreboard(ctx, "users", board)
	return board, nil
}

// ListSubmissions 提交流水，按时间倒序
func (s *Service) ListSubmissions(ctx context.Context, f store.SubmissionFilter) ([]*store.Submission, int, error) {
	return s.store.ListSubmissions(ctx, f)
}
