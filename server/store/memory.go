// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore 进程内存储（未配置 DATABASE_URL 时使用，也是测试夹具）
type MemoryStore struct {
	mu          sync.RWMutex
	challenges  map[int64]*Challenge
	users       map[int64]*User
	teams       map[int64]*Team
	submissions []*Submission
	subIndex    map[string]int

	nextChallengeID int64
	nextUserID      int64
	nextTeamID      int64

	locks keyedMutex
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[int64]*Challenge),
		users:      make(map[int64]*User),
		teams:      make(map[int64]*Team),
		subIndex:   make(map[string]int),
		locks:      keyedMutex{locks: make(map[int64]*refMutex)},
	}
}

// ========== 按题目ID加锁 ==========

type refMutex struct {
	sync.Mutex
	refs int
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

// lock 获取 key 对应的互斥锁，返回释放函数
func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// ========== 题目 ==========

// CreateChallenge 创建题目
func (s *MemoryStore) CreateChallenge(ctx context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextChallengeID++
	ch.ID = s.nextChallengeID
	now := time.Now()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now
	s.challenges[ch.ID] = ch.Clone()
	return nil
}

// GetChallenge 获取题目（返回副本）
func (s *MemoryStore) GetChallenge(ctx context.Context, id int64) (*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %d: %w", id, ErrNotFound)
	}
	return ch.Clone(), nil
}

// ListChallenges 按ID排序返回所有题目
func (s *MemoryStore) ListChallenges(ctx context.Context) ([]*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Challenge, 0, len(s.challenges))
	for _, ch := range s.challenges {
		list = append(list, ch.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// WithChallengeLock 同一题目串行执行，修改先暂存，fn 成功后一次性提交
func (s *MemoryStore) WithChallengeLock(ctx context.Context, challengeID int64, fn func(tx ChallengeTx) error) error {
	unlock := s.locks.lock(challengeID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := s.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}

	tx := &memoryTx{
		store:     s,
		challenge: ch,
		userInc:   make(map[int64]int),
		teamInc:   make(map[int64]*teamIncrement),
		subPoints: make(map[string]int),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type teamIncrement struct {
	amount      int
	firstBloods int
	at          time.Time
}

type memoryTx struct {
	store     *MemoryStore
	challenge *Challenge
	dirty     bool

	userInc   map[int64]int
	teamInc   map[int64]*teamIncrement
	subPoints map[string]int
}

func (tx *memoryTx) Challenge() *Challenge {
	return tx.challenge
}

func (tx *memoryTx) UpdateDefinition(ch *Challenge) error {
	tx.challenge.Name = ch.Name
	tx.challenge.Category = ch.Category
	tx.challenge.Flag = ch.Flag
	tx.challenge.Params = ch.Params
	tx.challenge.CurrentValue = ch.CurrentValue
	tx.challenge.UpdatedAt = time.Now()
	tx.dirty = true
	return nil
}

func (tx *memoryTx) AppendSolve(userSolve SolveEntry, teamSolve *SolveEntry, currentValue int) error {
	tx.challenge.SolvedByUsers = append(tx.challenge.SolvedByUsers, userSolve)
	if teamSolve != nil {
		tx.challenge.SolvedByTeams = append(tx.challenge.SolvedByTeams, *teamSolve)
	}
	tx.challenge.CurrentValue = currentValue
	tx.challenge.UpdatedAt = time.Now()
	tx.dirty = true
	return nil
}

func (tx *memoryTx) IncrementUserPoints(userID int64, amount int) error {
	tx.store.mu.RLock()
	_, ok := tx.store.users[userID]
	tx.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	tx.userInc[userID] += amount
	return nil
}

func (tx *memoryTx) IncrementTeamPoints(teamID int64, amount int, firstBlood bool, at time.Time) error {
	tx.store.mu.RLock()
	_, ok := tx.store.teams[teamID]
	tx.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("team %d: %w", teamID, ErrNotFound)
	}
	inc, ok := tx.teamInc[teamID]
	if !ok {
		inc = &teamIncrement{}
		tx.teamInc[teamID] = inc
	}
	inc.amount += amount
	if firstBlood {
		inc.firstBloods++
	}
	if at.After(inc.at) {
		inc.at = at
	}
	return nil
}

func (tx *memoryTx) SetSubmissionPoints(submissionID string, points int) error {
	tx.store.mu.RLock()
	_, ok := tx.store.subIndex[submissionID]
	tx.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	tx.subPoints[submissionID] = points
	return nil
}

// commit 持有全局写锁一次性应用所有暂存修改
func (tx *memoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.dirty {
		s.challenges[tx.challenge.ID] = tx.challenge.Clone()
	}
	for id, amount := range tx.userInc {
		s.users[id].PointsTotal += amount
	}
	for id, inc := range tx.teamInc {
		t := s.teams[id]
		t.PointsTotal += inc.amount
		t.FirstBloodCount += inc.firstBloods
		if inc.at.After(t.LastSolveAt) {
			t.LastSolveAt = inc.at
		}
	}
	for id, points := range tx.subPoints {
		s.submissions[s.subIndex[id]].PointsAwarded = points
	}
	return nil
}

// ========== 队伍/用户 ==========

// CreateTeam 创建队伍（总分为0）
func (s *MemoryStore) CreateTeam(ctx context.Context, t *Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.teams {
		if existing.Name == t.Name {
			return fmt.Errorf("team %q: %w", t.Name, ErrDuplicate)
		}
	}
	s.nextTeamID++
	t.ID = s.nextTeamID
	t.PointsTotal = 0
	t.FirstBloodCount = 0
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	s.teams[t.ID] = &cp
	return nil
}

// GetTeam 获取队伍
func (s *MemoryStore) GetTeam(ctx context.Context, id int64) (*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %d: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// ListTeams 所有队伍
func (s *MemoryStore) ListTeams(ctx context.Context) ([]*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Team, 0, len(s.teams))
	for _, t := range s.teams {
		cp := *t
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// CreateUser 创建用户（总分为0）
func (s *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
	}
	if u.TeamID != nil {
		if _, ok := s.teams[*u.TeamID]; !ok {
			return fmt.Errorf("team %d: %w", *u.TeamID, ErrNotFound)
		}
	}
	s.nextUserID++
	u.ID = s.nextUserID
	u.PointsTotal = 0
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// GetUser 获取用户
func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername 按用户名获取用户
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

// ListUsers 所有用户
func (s *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// ========== 提交流水 ==========

// AppendSubmission 追加提交记录
func (s *MemoryStore) AppendSubmission(ctx context.Context, sub *Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subIndex[sub.ID]; exists {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrDuplicate)
	}
	cp := *sub
	s.subIndex[sub.ID] = len(s.submissions)
	s.submissions = append(s.submissions, &cp)
	return nil
}

// ListSubmissions 按时间倒序分页查询，返回当前页和总数
func (s *MemoryStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]*Submission, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Submission
	for i := len(s.submissions) - 1; i >= 0; i-- {
		if f.Match(s.submissions[i]) {
			cp := *s.submissions[i]
			matched = append(matched, &cp)
		}
	}
	total := len(matched)

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	if matched == nil {
		matched = []*Submission{}
	}
	return matched, total, nil
}

// Ping 内存存储始终可用
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close 无需释放资源
func (s *MemoryStore) Close() error {
	return nil
}
