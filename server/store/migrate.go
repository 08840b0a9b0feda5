// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

type migration struct {
	name string
	sql  string
}

// 按顺序执行，已执行的记录在 schema_migrations
var migrations = []migration{
	{
		name: "001_teams_users.sql",
		sql: `
			CREATE TABLE IF NOT EXISTS teams (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(100) NOT NULL UNIQUE,
				points_total INT NOT NULL DEFAULT 0,
				first_blood_count INT NOT NULL DEFAULT 0,
				last_solve_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				username VARCHAR(100) NOT NULL UNIQUE,
				display_name VARCHAR(100) NOT NULL,
				role VARCHAR(20) NOT NULL DEFAULT 'user',
				password_hash TEXT NOT NULL DEFAULT '',
				team_id BIGINT REFERENCES teams(id),
				points_total INT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);`,
	},
	{
		name: "002_challenges.sql",
		sql: `
			CREATE TABLE IF NOT EXISTS challenges (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(200) NOT NULL,
				category VARCHAR(50) NOT NULL DEFAULT '',
				flag TEXT NOT NULL,
				scoring_policy VARCHAR(20) NOT NULL,
				initial_value INT NOT NULL,
				decay_rate INT NOT NULL DEFAULT 0,
				minimum_value INT NOT NULL DEFAULT 0,
				current_value INT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS challenge_user_solves (
				challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
				user_id BIGINT NOT NULL REFERENCES users(id),
				solve_order INT NOT NULL,
				points_awarded INT NOT NULL,
				solved_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (challenge_id, user_id),
				UNIQUE (challenge_id, solve_order)
			);
			CREATE TABLE IF NOT EXISTS challenge_team_solves (
				challenge_id BIGINT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
				team_id BIGINT NOT NULL REFERENCES teams(id),
				solve_order INT NOT NULL,
				points_awarded INT NOT NULL,
				solved_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (challenge_id, team_id),
				UNIQUE (challenge_id, solve_order)
			);`,
	},
	{
		name: "003_submissions.sql",
		sql: `
			CREATE TABLE IF NOT EXISTS submissions (
				id UUID PRIMARY KEY,
				challenge_id BIGINT NOT NULL,
				user_id BIGINT NOT NULL,
				team_id BIGINT NOT NULL,
				provided_flag TEXT NOT NULL,
				outcome VARCHAR(16) NOT NULL,
				points_awarded INT NOT NULL DEFAULT 0,
				scoring_policy VARCHAR(20) NOT NULL,
				ip_address VARCHAR(64) NOT NULL DEFAULT '',
				submitted_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_submissions_challenge ON submissions (challenge_id, submitted_at DESC);
			CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions (user_id, submitted_at DESC);`,
	},
}

// Migrate 执行尚未执行的建表脚本，每个脚本一个事务
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		log.Printf("[Store] applying migration %s", m.name)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.name, err)
		}
	}
	return nil
}
