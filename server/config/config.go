// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config 启动时从环境变量读取一次
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Submit   SubmitConfig
	Admin    AdminConfig

	// ChallengesFile 启动时导入的题目 YAML 文件（可选）
	ChallengesFile string
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port      int
	JWTSecret string
}

// DatabaseConfig 为空时使用内存存储
type DatabaseConfig struct {
	URL string
}

// RedisConfig 地址为空时不启用排行榜缓存和冷却
type RedisConfig struct {
	Address       string
	Password      string
	DB            int
	ScoreboardTTL time.Duration
}

// SubmitConfig 提交相关配置
type SubmitConfig struct {
	Cooldown   time.Duration // 错误提交后的冷却时间，0 表示关闭
	MaxRetries int           // 并发冲突时的最大重试次数
}

// AdminConfig 初始管理员
type AdminConfig struct {
	Username    string
	Password    string
	DisplayName string
}

// Load 读取环境变量并校验
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnvAsInt("SERVER_PORT", 8080),
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Address:       getEnv("REDIS_ADDRESS", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ScoreboardTTL: getEnvAsDuration("SCOREBOARD_CACHE_TTL", 10*time.Second),
		},
		Submit: SubmitConfig{
			Cooldown:   getEnvAsDuration("SUBMIT_COOLDOWN", 0),
			MaxRetries: getEnvAsInt("SUBMIT_MAX_RETRIES", 5),
		},
		Admin: AdminConfig{
			Username:    getEnv("ADMIN_USERNAME", ""),
			Password:    getEnv("ADMIN_PASSWORD", ""),
			DisplayName: getEnv("ADMIN_DISPLAY_NAME", ""),
		},
		ChallengesFile: getEnv("CHALLENGES_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Submit.MaxRetries < 1 {
		return fmt.Errorf("SUBMIT_MAX_RETRIES must be at least 1, got %d", c.Submit.MaxRetries)
	}
	if c.Submit.Cooldown < 0 {
		return fmt.Errorf("SUBMIT_COOLDOWN must not be negative")
	}
	if (c.Admin.Username == "") != (c.Admin.Password == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
