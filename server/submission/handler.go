// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package submission

import (
	"bytes"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ctfscore/server/store"
)

// 返回给选手的提示
const (
	msgIncorrect     = "Incorrect flag"
	msgCorrect       = "Correct flag!"
	msgAlreadySolved = "Challenge already solved by this user."
)

// SubmitFlagRequest 提交flag请求
type SubmitFlagRequest struct {
	ChallengeID int64  `json:"challengeId"`
	Flag        string `json:"flag"`
}

// HandleSubmitFlag 提交flag
func HandleSubmitFlag(c *gin.Context, svc *Service) {
	userID := c.GetInt64("userID")

	var req SubmitFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	if strings.TrimSpace(req.Flag) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Flag is required."})
		return
	}
	if req.ChallengeID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "challengeId is required."})
		return
	}

	ctx := c.Request.Context()
	if remaining := svc.CooldownRemaining(ctx, userID, req.ChallengeID); remaining > 0 {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "Too many incorrect submissions, please wait.",
			"retryAfter": int(math.Ceil(remaining.Seconds())),
		})
		return
	}

	res, err := svc.Submit(ctx, SubmitRequest{
		ChallengeID: req.ChallengeID,
		UserID:      userID,
		Flag:        req.Flag,
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		writeSubmitError(c, err)
		return
	}

	if res.Outcome == store.OutcomeIncorrect {
		svc.StartCooldown(ctx, userID, req.ChallengeID)
		c.JSON(http.StatusOK, gin.H{"outcome": msgIncorrect})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":       msgCorrect,
		"pointsAwarded": res.PointsAwarded,
		"firstBlood":    res.FirstBlood,
	})
}

func writeSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found."})
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found."})
	case errors.Is(err, ErrTeamRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "You must join a team before submitting flags."})
	case errors.Is(err, ErrAlreadySolved):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgAlreadySolved})
	default:
		log.Printf("[Submit] submit error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
	}
}

// HandleGetChallengeSolves 单题解题记录
func HandleGetChallengeSolves(c *gin.Context, svc *Service) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid challenge id."})
		return
	}
	view, err := svc.GetChallengeSolves(c.Request.Context(), id)
	if errors.Is(err, ErrChallengeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found."})
		return
	}
	if err != nil {
		log.Printf("[Submit] get solves error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleGetScoreboard 队伍排行榜
func HandleGetScoreboard(c *gin.Context, svc *Service) {
	board, err := svc.TeamScoreboard(c.Request.Context())
	if err != nil {
		log.Printf("[Submit] scoreboard error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scoreboard": board})
}

// HandleGetUserScoreboard 个人排行榜
func HandleGetUserScoreboard(c *gin.Context, svc *Service) {
	board, err := svc.UserScoreboard(c.Request.Context())
	if err != nil {
		log.Printf("[Submit] user scoreboard error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scoreboard": board})
}

// parseFilter 解析 challengeId/userId/teamId/outcome 查询参数
func parseFilter(c *gin.Context) (store.SubmissionFilter, bool) {
	var f store.SubmissionFilter
	for key, dst := range map[string]*int64{
		"challengeId": &f.ChallengeID,
		"userId":      &f.UserID,
		"teamId":      &f.TeamID,
	} {
		if v := c.Query(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return f, false
			}
			*dst = n
		}
	}
	switch strings.ToLower(c.Query("outcome")) {
	case "":
	case "correct":
		f.Outcome = store.OutcomeCorrect
	case "incorrect":
		f.Outcome = store.OutcomeIncorrect
	default:
		return f, false
	}
	return f, true
}

// HandleListSubmissions 提交流水分页查询（管理员）
func HandleListSubmissions(c *gin.Context, svc *Service) {
	f, ok := parseFilter(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter."})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	f.Limit = pageSize
	f.Offset = (page - 1) * pageSize

	subs, total, err := svc.ListSubmissions(c.Request.Context(), f)
	if err != nil {
		log.Printf("[Submit] list submissions error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"submissions": subs,
		"total":       total,
		"page":        page,
		"pageSize":    pageSize,
	})
}

// HandleExportSubmissions 导出提交流水为 xlsx（管理员）
func HandleExportSubmissions(c *gin.Context, svc *Service) {
	f, ok := parseFilter(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter."})
		return
	}
	var buf bytes.Buffer
	if _, err := svc.ExportSubmissions(c.Request.Context(), f, &buf); err != nil {
		log.Printf("[Submit] export error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
		return
	}
	c.Header("Content-Disposition", "attachment; filename=submissions.xlsx")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
