// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package store

import (
	"time"

	"ctfscore/server/scoring"
)

// Challenge 题目定义及解题状态
type Challenge struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Flag     string `json:"flag,omitempty"` // 只有管理员可见
	scoring.Params
	CurrentValue  int          `json:"currentValue"` // 下一位解题者获得的分值
	SolvedByUsers []SolveEntry `json:"solvedByUsers"`
	SolvedByTeams []SolveEntry `json:"solvedByTeams"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// SolveEntry 个人/队伍解题记录，按解题先后排列
type SolveEntry struct {
	ID            int64     `json:"id"` // userID 或 teamID
	Time          time.Time `json:"time"`
	PointsAwarded int       `json:"pointsAwarded"`
}

// HasUser 该用户是否已解出
func (c *Challenge) HasUser(userID int64) bool {
	for _, s := range c.SolvedByUsers {
		if s.ID == userID {
			return true
		}
	}
	return false
}

// HasTeam 该队伍是否已有解题记录
func (c *Challenge) HasTeam(teamID int64) bool {
	for _, s := range c.SolvedByTeams {
		if s.ID == teamID {
			return true
		}
	}
	return false
}

// FirstBlood 一血队伍记录
func (c *Challenge) FirstBlood() *SolveEntry {
	if len(c.SolvedByTeams) == 0 {
		return nil
	}
	fb := c.SolvedByTeams[0]
	return &fb
}

// Clone 深拷贝，避免调用方修改存储内部切片
func (c *Challenge) Clone() *Challenge {
	cp := *c
	cp.SolvedByUsers = append([]SolveEntry{}, c.SolvedByUsers...)
	cp.SolvedByTeams = append([]SolveEntry{}, c.SolvedByTeams...)
	return &cp
}

// User 用户及个人总分
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"` // user | admin
	PasswordHash string    `json:"-"`
	TeamID       *int64    `json:"teamId"`
	PointsTotal  int       `json:"pointsTotal"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Team 队伍及队伍总分
type Team struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	PointsTotal     int       `json:"pointsTotal"`
	FirstBloodCount int       `json:"firstBloodCount"`
	LastSolveAt     time.Time `json:"lastSolveAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Outcome 提交结果
type Outcome string

const (
	OutcomeCorrect   Outcome = "Correct"
	OutcomeIncorrect Outcome = "Incorrect"
)

// Submission 提交流水（只追加，创建后不可修改，除计分时回填 PointsAwarded）
type Submission struct {
	ID                        string         `json:"id"`
	ChallengeID               int64          `json:"challengeId"`
	UserID                    int64          `json:"userId"`
	TeamID                    int64          `json:"teamId"`
	ProvidedFlag              string         `json:"providedFlag"`
	Outcome                   Outcome        `json:"outcome"`
	PointsAwarded             int            `json:"pointsAwarded"`
	ScoringPolicyAtSubmission scoring.Policy `json:"scoringPolicyAtSubmission"`
	IPAddress                 string         `json:"ipAddress,omitempty"`
	Time                      time.Time      `json:"time"`
}

// SubmissionFilter 流水查询条件
type SubmissionFilter struct {
	ChallengeID int64
	UserID      int64
	TeamID      int64
	Outcome     Outcome
	Limit       int
	Offset      int
}

// Match 是否满足过滤条件（Limit/Offset 不参与）
func (f SubmissionFilter) Match(s *Submission) bool {
	if f.ChallengeID != 0 && s.ChallengeID != f.ChallengeID {
		return false
	}
	if f.UserID != 0 && s.UserID != f.UserID {
		return false
	}
	if f.TeamID != 0 && s.TeamID != f.TeamID {
		return false
	}
	if f.Outcome != "" && s.Outcome != f.Outcome {
		return false
	}
	return true
}
