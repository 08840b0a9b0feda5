// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("not found")
	// ErrConflict 并发冲突（序列化失败、死锁、唯一约束竞争），由调用方重试
	ErrConflict = errors.New("concurrent update conflict")
	// ErrDuplicate 用户名/队伍名已存在
	ErrDuplicate = errors.New("already exists")
)

// Store 计分引擎使用的存储句柄，进程启动时创建一次并显式传递
type Store interface {
	// 题目
	CreateChallenge(ctx context.Context, ch *Challenge) error
	GetChallenge(ctx context.Context, id int64) (*Challenge, error)
	ListChallenges(ctx context.Context) ([]*Challenge, error)

	// WithChallengeLock 在单个题目的原子范围内执行 fn：
	// 同一题目的调用串行化，fn 返回 nil 时所有暂存的修改一起提交，否则全部丢弃
	WithChallengeLock(ctx context.Context, challengeID int64, fn func(tx ChallengeTx) error) error

	// 队伍/用户
	CreateTeam(ctx context.Context, t *Team) error
	GetTeam(ctx context.Context, id int64) (*Team, error)
	ListTeams(ctx context.Context) ([]*Team, error)
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// 提交流水
	AppendSubmission(ctx context.Context, s *Submission) error
	ListSubmissions(ctx context.Context, f SubmissionFilter) ([]*Submission, int, error)

	Ping(ctx context.Context) error
	Close() error
}

// ChallengeTx 单题原子范围内可执行的操作
type ChallengeTx interface {
	// Challenge 加锁后读取到的题目（包含本事务内已暂存的修改）
	Challenge() *Challenge
	// UpdateDefinition 替换名称、分类、flag、计分参数和 currentValue，不改动解题记录
	UpdateDefinition(ch *Challenge) error
	// AppendSolve 追加个人解题记录；teamSolve 非空时追加队伍解题记录；同时写入新的 currentValue
	AppendSolve(userSolve SolveEntry, teamSolve *SolveEntry, currentValue int) error
	// IncrementUserPoints 原子增加个人总分
	IncrementUserPoints(userID int64, amount int) error
	// IncrementTeamPoints 原子增加队伍总分，firstBlood 为 true 时一血数加一
	IncrementTeamPoints(teamID int64, amount int, firstBlood bool, at time.Time) error
	// SetSubmissionPoints 回填提交流水的得分
	SetSubmissionPoints(submissionID string, points int) error
}
