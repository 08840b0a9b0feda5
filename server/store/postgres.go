// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ctfscore/server/scoring"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore 基于 PostgreSQL 的存储
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres 打开连接池并执行建表
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore 使用已有连接（调用方负责建表）
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// mapPgError 序列化失败/死锁/唯一约束竞争统一视为并发冲突
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const challengeColumns = `id, name, category, flag, scoring_policy, initial_value, decay_rate, minimum_value, current_value, created_at, updated_at`

func scanChallenge(row rowScanner) (*Challenge, error) {
	var ch Challenge
	var policy string
	err := row.Scan(&ch.ID, &ch.Name, &ch.Category, &ch.Flag, &policy,
		&ch.InitialValue, &ch.DecayRate, &ch.MinimumValue, &ch.CurrentValue, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ch.Policy = scoring.Policy(policy)
	return &ch, nil
}

// loadSolves 按解题顺序加载个人和队伍解题记录
func loadSolves(ctx context.Context, q queryer, ch *Challenge) error {
	users, err := querySolves(ctx, q, `SELECT user_id, solved_at, points_awarded FROM challenge_user_solves WHERE challenge_id = $1 ORDER BY solve_order`, ch.ID)
	if err != nil {
		return fmt.Errorf("failed to load user solves: %w", err)
	}
	teams, err := querySolves(ctx, q, `SELECT team_id, solved_at, points_awarded FROM challenge_team_solves WHERE challenge_id = $1 ORDER BY solve_order`, ch.ID)
	if err != nil {
		return fmt.Errorf("failed to load team solves: %w", err)
	}
	ch.SolvedByUsers = users
	ch.SolvedByTeams = teams
	return nil
}

func querySolves(ctx context.Context, q queryer, query string, challengeID int64) ([]SolveEntry, error) {
	rows, err := q.QueryContext(ctx, query, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	solves := []SolveEntry{}
	for rows.Next() {
		var s SolveEntry
		if err := rows.Scan(&s.ID, &s.Time, &s.PointsAwarded); err != nil {
			return nil, err
		}
		solves = append(solves, s)
	}
	return solves, rows.Err()
}

// ========== 题目 ==========

// CreateChallenge 创建题目
func (p *PostgresStore) CreateChallenge(ctx context.Context, ch *Challenge) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO challenges (name, category, flag, scoring_policy, initial_value, decay_rate, minimum_value, current_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		ch.Name, ch.Category, ch.Flag, string(ch.Policy), ch.InitialValue, ch.DecayRate, ch.MinimumValue, ch.CurrentValue,
	).Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	ch.SolvedByUsers = []SolveEntry{}
	ch.SolvedByTeams = []SolveEntry{}
	return nil
}

// GetChallenge 获取题目及解题记录
func (p *PostgresStore) GetChallenge(ctx context.Context, id int64) (*Challenge, error) {
	ch, err := scanChallenge(p.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("challenge %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if err := loadSolves(ctx, p.db, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChallenges 所有题目（含解题记录）
func (p *PostgresStore) ListChallenges(ctx context.Context) ([]*Challenge, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	var list []*Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		list = append(list, ch)
	}
	rows.Close()

	for _, ch := range list {
		if err := loadSolves(ctx, p.db, ch); err != nil {
			return nil, err
		}
	}
	if list == nil {
		list = []*Challenge{}
	}
	return list, nil
}

// WithChallengeLock 事务内 SELECT ... FOR UPDATE 锁住题目行
func (p *PostgresStore) WithChallengeLock(ctx context.Context, challengeID int64, fn func(tx ChallengeTx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			sqlTx.Rollback()
		}
	}()

	ch, err := scanChallenge(sqlTx.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1 FOR UPDATE`, challengeID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("challenge %d: %w", challengeID, ErrNotFound)
	}
	if err != nil {
		return mapPgError(fmt.Errorf("failed to lock challenge: %w", err))
	}
	if err := loadSolves(ctx, sqlTx, ch); err != nil {
		return mapPgError(err)
	}

	if err := fn(&postgresTx{ctx: ctx, tx: sqlTx, challenge: ch}); err != nil {
		return mapPgError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapPgError(fmt.Errorf("failed to commit: %w", err))
	}
	committed = true
	return nil
}

type postgresTx struct {
	ctx       context.Context
	tx        *sql.Tx
	challenge *Challenge
}

func (t *postgresTx) Challenge() *Challenge {
	return t.challenge
}

func (t *postgresTx) UpdateDefinition(ch *Challenge) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE challenges SET name = $1, category = $2, flag = $3, scoring_policy = $4,
			initial_value = $5, decay_rate = $6, minimum_value = $7, current_value = $8, updated_at = NOW()
		WHERE id = $9`,
		ch.Name, ch.Category, ch.Flag, string(ch.Policy), ch.InitialValue, ch.DecayRate, ch.MinimumValue, ch.CurrentValue, t.challenge.ID)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}
	t.challenge.Name = ch.Name
	t.challenge.Category = ch.Category
	t.challenge.Flag = ch.Flag
	t.challenge.Params = ch.Params
	t.challenge.CurrentValue = ch.CurrentValue
	return nil
}

func (t *postgresTx) AppendSolve(userSolve SolveEntry, teamSolve *SolveEntry, currentValue int) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO challenge_user_solves (challenge_id, user_id, solve_order, points_awarded, solved_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.challenge.ID, userSolve.ID, len(t.challenge.SolvedByUsers)+1, userSolve.PointsAwarded, userSolve.Time)
	if err != nil {
		return fmt.Errorf("failed to insert user solve: %w", err)
	}
	if teamSolve != nil {
		_, err = t.tx.ExecContext(t.ctx, `
			INSERT INTO challenge_team_solves (challenge_id, team_id, solve_order, points_awarded, solved_at)
			VALUES ($1, $2, $3, $4, $5)`,
			t.challenge.ID, teamSolve.ID, len(t.challenge.SolvedByTeams)+1, teamSolve.PointsAwarded, teamSolve.Time)
		if err != nil {
			return fmt.Errorf("failed to insert team solve: %w", err)
		}
	}
	_, err = t.tx.ExecContext(t.ctx, `UPDATE challenges SET current_value = $1, updated_at = NOW() WHERE id = $2`,
		currentValue, t.challenge.ID)
	if err != nil {
		return fmt.Errorf("failed to update current value: %w", err)
	}

	t.challenge.SolvedByUsers = append(t.challenge.SolvedByUsers, userSolve)
	if teamSolve != nil {
		t.challenge.SolvedByTeams = append(t.challenge.SolvedByTeams, *teamSolve)
	}
	t.challenge.CurrentValue = currentValue
	return nil
}

func (t *postgresTx) IncrementUserPoints(userID int64, amount int) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE users SET points_total = points_total + $1 WHERE id = $2`, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to increment user points: %w", err)
	}
	return expectOneRow(res, "user", userID)
}

func (t *postgresTx) IncrementTeamPoints(teamID int64, amount int, firstBlood bool, at time.Time) error {
	bloods := 0
	if firstBlood {
		bloods = 1
	}
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE teams SET points_total = points_total + $1,
			first_blood_count = first_blood_count + $2,
			last_solve_at = GREATEST(COALESCE(last_solve_at, $3), $3)
		WHERE id = $4`, amount, bloods, at, teamID)
	if err != nil {
		return fmt.Errorf("failed to increment team points: %w", err)
	}
	return expectOneRow(res, "team", teamID)
}

func (t *postgresTx) SetSubmissionPoints(submissionID string, points int) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE submissions SET points_awarded = $1 WHERE id = $2`, points, submissionID)
	if err != nil {
		return fmt.Errorf("failed to update submission points: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	return nil
}

func expectOneRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// ========== 队伍/用户 ==========

// CreateTeam 创建队伍
func (p *PostgresStore) CreateTeam(ctx context.Context, t *Team) error {
	err := p.db.QueryRowContext(ctx, `INSERT INTO teams (name) VALUES ($1) RETURNING id, created_at`, t.Name).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if errors.Is(mapPgError(err), ErrConflict) {
			return fmt.Errorf("team %q: %w", t.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to create team: %w", err)
	}
	t.PointsTotal = 0
	t.FirstBloodCount = 0
	return nil
}

const teamColumns = `id, name, points_total, first_blood_count, last_solve_at, created_at`

func scanTeam(row rowScanner) (*Team, error) {
	var t Team
	var lastSolve sql.NullTime
	if err := row.Scan(&t.ID, &t.Name, &t.PointsTotal, &t.FirstBloodCount, &lastSolve, &t.CreatedAt); err != nil {
		return nil, err
	}
	if lastSolve.Valid {
		t.LastSolveAt = lastSolve.Time
	}
	return &t, nil
}

// GetTeam 获取队伍
func (p *PostgresStore) GetTeam(ctx context.Context, id int64) (*Team, error) {
	t, err := scanTeam(p.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

// ListTeams 所有队伍
func (p *PostgresStore) ListTeams(ctx context.Context) ([]*Team, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	list := []*Team{}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// CreateUser 创建用户
func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	if u.Role == "" {
		u.Role = "user"
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO users (username, display_name, role, password_hash, team_id)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		u.Username, u.DisplayName, u.Role, u.PasswordHash, u.TeamID,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
			case "23503":
				return fmt.Errorf("team %d: %w", *u.TeamID, ErrNotFound)
			}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.PointsTotal = 0
	return nil
}

const userColumns = `id, username, display_name, role, password_hash, team_id, points_total, created_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	var teamID sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.PasswordHash, &teamID, &u.PointsTotal, &u.CreatedAt); err != nil {
		return nil, err
	}
	if teamID.Valid {
		u.TeamID = &teamID.Int64
	}
	return &u, nil
}

// GetUser 获取用户
func (p *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername 按用户名获取用户
func (p *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers 所有用户
func (p *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	list := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// ========== 提交流水 ==========

// AppendSubmission 追加提交记录
func (p *PostgresStore) AppendSubmission(ctx context.Context, s *Submission) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO submissions (id, challenge_id, user_id, team_id, provided_flag, outcome, points_awarded, scoring_policy, ip_address, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.ChallengeID, s.UserID, s.TeamID, s.ProvidedFlag, string(s.Outcome), s.PointsAwarded,
		string(s.ScoringPolicyAtSubmission), s.IPAddress, s.Time)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// ListSubmissions 按时间倒序分页查询
func (p *PostgresStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]*Submission, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.ChallengeID != 0 {
		args = append(args, f.ChallengeID)
		where += ` AND challenge_id = $` + strconv.Itoa(len(args))
	}
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where += ` AND user_id = $` + strconv.Itoa(len(args))
	}
	if f.TeamID != 0 {
		args = append(args, f.TeamID)
		where += ` AND team_id = $` + strconv.Itoa(len(args))
	}
	if f.Outcome != "" {
		args = append(args, string(f.Outcome))
		where += ` AND outcome = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	query := `SELECT id, challenge_id, user_id, team_id, provided_flag, outcome, points_awarded, scoring_policy, ip_address, submitted_at
		FROM submissions` + where + ` ORDER BY submitted_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	list := []*Submission{}
	for rows.Next() {
		var s Submission
		var outcome, policy string
		if err := rows.Scan(&s.ID, &s.ChallengeID, &s.UserID, &s.TeamID, &s.ProvidedFlag, &outcome,
			&s.PointsAwarded, &policy, &s.IPAddress, &s.Time); err != nil {
			return nil, 0, fmt.Errorf("failed to scan submission: %w", err)
		}
		s.Outcome = Outcome(outcome)
		s.ScoringPolicyAtSubmission = scoring.Policy(policy)
		list = append(list, &s)
	}
	return list, total, rows.Err()
}

// Ping 检查数据库连接
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close 关闭连接池
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
