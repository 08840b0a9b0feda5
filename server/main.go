// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package main

import (
	"context"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"

	"ctfscore/server/admin"
	"ctfscore/server/cache"
	"ctfscore/server/config"
	"ctfscore/server/monitor"
	"ctfscore/server/question"
	"ctfscore/server/store"
	"ctfscore/server/submission"
)

// app 进程内共享的组件，启动时创建一次
type app struct {
	secret     []byte
	store      store.Store
	hub        *monitor.Hub
	submission *submission.Service
	question   *question.Service
	admin      *admin.Service
}

func newApp(cfg *config.Config, st store.Store, c *cache.Cache) *app {
	secret := []byte(cfg.Server.JWTSecret)
	hub := monitor.NewHub(secret)
	return &app{
		secret:     secret,
		store:      st,
		hub:        hub,
		submission: submission.NewService(st, c, hub, cfg.Submit.Cooldown, cfg.Submit.MaxRetries),
		question:   question.NewService(st),
		admin:      admin.NewService(st),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx := context.Background()

	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		st = pg
		log.Println("[Store] using PostgreSQL")
	} else {
		st = store.NewMemoryStore()
		log.Println("[Store] DATABASE_URL not set, using in-memory store")
	}
	defer st.Close()

	var c *cache.Cache
	if cfg.Redis.Address != "" {
		c, err = cache.Open(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ScoreboardTTL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer c.Close()
	} else if cfg.Submit.Cooldown > 0 {
		log.Println("[Cache] SUBMIT_COOLDOWN ignored: REDIS_ADDRESS not set")
	}

	a := newApp(cfg, st, c)

	if err := a.admin.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.DisplayName); err != nil {
		log.Fatalf("failed to ensure admin user: %v", err)
	}
	if cfg.ChallengesFile != "" {
		if err := a.question.ImportFile(ctx, cfg.ChallengesFile); err != nil {
			log.Fatalf("failed to import challenges: %v", err)
		}
	}

	r := gin.Default()
	a.routes(r)

	if err := r.Run(":" + strconv.Itoa(cfg.Server.Port)); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// routes 注册所有接口
func (a *app) routes(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/login", func(c *gin.Context) {
		handleLogin(c, a.store, a.secret)
	})

	// 公开的排行榜
	api.GET("/scoreboard", func(c *gin.Context) {
		submission.HandleGetScoreboard(c, a.submission)
	})
	api.GET("/scoreboard/users", func(c *gin.Context) {
		submission.HandleGetUserScoreboard(c, a.submission)
	})
	// 实时推送（不经过中间件，自己验证token）
	api.GET("/scoreboard/ws", a.hub.HandleWebSocket)

	// 需要登录的用户API
	userAPI := api.Group("")
	userAPI.Use(userAuthMiddleware(a.secret, a.store))
	{
		userAPI.GET("/challenges", func(c *gin.Context) {
			question.HandlePublicChallenges(c, a.question)
		})
		userAPI.POST("/challenges/submit", func(c *gin.Context) {
			submission.HandleSubmitFlag(c, a.submission)
		})
		userAPI.GET("/challenges/:id/solves", func(c *gin.Context) {
			submission.HandleGetChallengeSolves(c, a.submission)
		})
	}

	adminAPI := api.Group("/admin")
	adminAPI.Use(userAuthMiddleware(a.secret, a.store), adminMiddleware())
	{
		adminAPI.GET("/challenges", func(c *gin.Context) {
			question.HandleListChallenges(c, a.question)
		})
		adminAPI.POST("/challenges", func(c *gin.Context) {
			question.HandleCreateChallenge(c, a.question)
		})
		adminAPI.POST("/challenges/import", func(c *gin.Context) {
			question.HandleImportChallenges(c, a.question)
		})
		adminAPI.GET("/challenges/:id", func(c *gin.Context) {
			question.HandleGetChallenge(c, a.question)
		})
		adminAPI.PUT("/challenges/:id", func(c *gin.Context) {
			question.HandleUpdateChallenge(c, a.question)
		})

		adminAPI.GET("/teams", func(c *gin.Context) {
			admin.HandleListTeams(c, a.admin)
		})
		adminAPI.POST("/teams", func(c *gin.Context) {
			admin.HandleCreateTeam(c, a.admin)
		})
		adminAPI.GET("/users", func(c *gin.Context) {
			admin.HandleListUsers(c, a.admin)
		})
		adminAPI.POST("/users", func(c *gin.Context) {
			admin.HandleCreateUser(c, a.admin)
		})
		adminAPI.POST("/users/import", func(c *gin.Context) {
			admin.HandleImportUsers(c, a.admin)
		})
		adminAPI.GET("/overview", func(c *gin.Context) {
			admin.HandleAdminOverview(c, a.admin)
		})

		adminAPI.GET("/submissions", func(c *gin.Context) {
			submission.HandleListSubmissions(c, a.submission)
		})
		adminAPI.GET("/submissions/export", func(c *gin.Context) {
			submission.HandleExportSubmissions(c, a.submission)
		})
	}
}
