// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"ctfscore/server/cache"
	"ctfscore/server/monitor"
	"ctfscore/server/scoring"
	"ctfscore/server/store"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrTeamRequired      = errors.New("user has no team")
	ErrAlreadySolved     = errors.New("challenge already solved by this user")
)

// Publisher 接收解题事件（实时排行榜）
type Publisher interface {
	Publish(e monitor.Event)
}

// Service 计分事务协调器及相关查询
type Service struct {
	store      store.Store
	cache      *cache.Cache
	events     Publisher
	cooldown   time.Duration
	maxRetries int

	now func() time.Time
}

// NewService 创建协调器；c 和 events 可以为 nil
func NewService(st store.Store, c *cache.Cache, events Publisher, cooldown time.Duration, maxRetries int) *Service {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Service{
		store:      st,
		cache:      c,
		events:     events,
		cooldown:   cooldown,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// SubmitRequest 一次 flag 提交
type SubmitRequest struct {
	ChallengeID int64
	UserID      int64
	Flag        string
	IPAddress   string
}

// Result 提交结果
type Result struct {
	SubmissionID  string
	Outcome       store.Outcome
	PointsAwarded int
	FirstBlood    bool
}

// flagMatches flag 比较忽略大小写和首尾空白
func flagMatches(expected, provided string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(provided))
}

// Submit 校验 flag、写入提交流水，首次正确提交时在单题原子范围内完成计分
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	ch, err := s.store.GetChallenge(ctx, req.ChallengeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.TeamID == nil {
		return nil, ErrTeamRequired
	}
	team, err := s.store.GetTeam(ctx, *user.TeamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTeamRequired
	}
	if err != nil {
		return nil, fmt.Errorf("load team: %w", err)
	}

	outcome := store.OutcomeIncorrect
	if flagMatches(ch.Flag, req.Flag) {
		outcome = store.OutcomeCorrect
	}

	sub := &store.Submission{
		ID:                        uuid.NewString(),
		ChallengeID:               ch.ID,
		UserID:                    user.ID,
		TeamID:                    team.ID,
		ProvidedFlag:              req.Flag,
		Outcome:                   outcome,
		PointsAwarded:             0,
		ScoringPolicyAtSubmission: ch.Policy,
		IPAddress:                 req.IPAddress,
		Time:                      s.now(),
	}
	if err := s.store.AppendSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("append submission: %w", err)
	}

	if outcome == store.OutcomeIncorrect {
		log.Printf("[Submit] incorrect flag: user=%s challenge=%d", user.Username, ch.ID)
		return &Result{SubmissionID: sub.ID, Outcome: outcome}, nil
	}

	solve, err := s.award(ctx, ch.ID, user, team, sub.ID)
	if err != nil {
		if errors.Is(err, ErrAlreadySolved) {
			log.Printf("[Submit] duplicate solve: user=%s challenge=%d", user.Username, ch.ID)
		}
		return nil, err
	}

	log.Printf("[Submit] solve: user=%s team=%s challenge=%d points=%d next=%d firstBlood=%v",
		user.Username, team.Name, ch.ID, solve.award, solve.nextValue, solve.firstBlood)

	s.cache.InvalidateScoreboard(ctx)
	s.publish(solve, user, team)

	return &Result{
		SubmissionID:  sub.ID,
		Outcome:       outcome,
		PointsAwarded: solve.award,
		FirstBlood:    solve.firstBlood,
	}, nil
}

type solveResult struct {
	challenge  string
	challID    int64
	award      int
	nextValue  int
	firstBlood bool
	at         time.Time
}

// award 重复解题判断、加分、一血判断、分值衰减在同一个原子范围内完成；并发冲突时重试
func (s *Service) award(ctx context.Context, challengeID int64, user *store.User, team *store.Team, submissionID string) (*solveResult, error) {
	var res *solveResult
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		res = nil
		err = s.store.WithChallengeLock(ctx, challengeID, func(tx store.ChallengeTx) error {
			ch := tx.Challenge()
			if ch.HasUser(user.ID) {
				return ErrAlreadySolved
			}

			now := s.now()
			points := ch.CurrentValue
			firstBlood := len(ch.SolvedByTeams) == 0

			if err := tx.IncrementUserPoints(user.ID, points); err != nil {
				return err
			}
			if err := tx.IncrementTeamPoints(team.ID, points, firstBlood, now); err != nil {
				return err
			}

			userSolve := store.SolveEntry{ID: user.ID, Time: now, PointsAwarded: points}
			var teamSolve *store.SolveEntry
			if !ch.HasTeam(team.ID) {
				teamSolve = &store.SolveEntry{ID: team.ID, Time: now, PointsAwarded: points}
			}
			next := scoring.Next(ch.Params, len(ch.SolvedByUsers)+1)
			if err := tx.AppendSolve(userSolve, teamSolve, next); err != nil {
				return err
			}
			if err := tx.SetSubmissionPoints(submissionID, points); err != nil {
				return err
			}

			res = &solveResult{
				challenge:  ch.Name,
				challID:    ch.ID,
				award:      points,
				nextValue:  next,
				firstBlood: firstBlood,
				at:         now,
			}
			return nil
		})
		if !errors.Is(err, store.ErrConflict) || attempt == s.maxRetries {
			break
		}
		log.Printf("[Submit] conflict on challenge %d, retry %d/%d: %v", challengeID, attempt, s.maxRetries, err)
		time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return res, nil
}

// publish 推送失败不影响计分
func (s *Service) publish(res *solveResult, user *store.User, team *store.Team) {
	if s.events == nil {
		return
	}
	e := monitor.Event{
		Type:          monitor.EventSolve,
		ChallengeID:   res.challID,
		ChallengeName: res.challenge,
		UserID:        user.ID,
		UserName:      user.DisplayName,
		TeamID:        team.ID,
		TeamName:      team.Name,
		PointsAwarded: res.award,
		CurrentValue:  res.nextValue,
		Time:          res.at.Format("2006-01-02 15:04:05"),
	}
	s.events.Publish(e)
	if res.firstBlood {
		e.Type = monitor.EventFirstBlood
		s.events.Publish(e)
	}
}

// CooldownRemaining 错误提交后的剩余冷却时间
func (s *Service) CooldownRemaining(ctx context.Context, userID, challengeID int64) time.Duration {
	if s.cooldown <= 0 {
		return 0
	}
	return s.cache.CooldownRemaining(ctx, userID, challengeID)
}

// StartCooldown 错误提交后开始冷却
func (s *Service) StartCooldown(ctx context.Context, userID, challengeID int64) {
	s.cache.StartCooldown(ctx, userID, challengeID, s.cooldown)
}
