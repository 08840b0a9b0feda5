// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"ctfscore/server/store"
)

// ImportUserRow 导入用户数据行
type ImportUserRow struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	TeamName    string `json:"teamName"`
}

// ImportResult 导入结果
type ImportResult struct {
	Total        int      `json:"total"`
	Success      int      `json:"success"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors"`
	CreatedTeams []string `json:"createdTeams"`
}

// ParseUserSheet 读取Excel第一个工作表，表头决定列映射
func ParseUserSheet(r io.Reader) ([]ImportUserRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read excel file: %v", ErrInvalidInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel file is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: header and at least one data row required", ErrInvalidInput)
	}

	colMap := make(map[string]int)
	for i, col := range rows[0] {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "username", "用户名":
			colMap["username"] = i
		case "displayname", "display_name", "name", "姓名":
			colMap["displayName"] = i
		case "password", "密码":
			colMap["password"] = i
		case "team", "teamname", "team_name", "队伍":
			colMap["teamName"] = i
		}
	}
	for _, required := range []string{"username", "password"} {
		if _, ok := colMap[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidInput, required)
		}
	}

	cell := func(row []string, key string) string {
		idx, ok := colMap[key]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var users []ImportUserRow
	for _, row := range rows[1:] {
		u := ImportUserRow{
			Username:    cell(row, "username"),
			DisplayName: cell(row, "displayName"),
			Password:    cell(row, "password"),
			TeamName:    cell(row, "teamName"),
		}
		// 跳过空行
		if u.Username == "" && u.Password == "" {
			continue
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: no user rows", ErrInvalidInput)
	}
	return users, nil
}

// ImportUsers 批量创建用户，队伍按名称查找，不存在时自动创建；单行失败不影响其他行
func (s *Service) ImportUsers(ctx context.Context, users []ImportUserRow) (ImportResult, error) {
	result := ImportResult{
		Total:        len(users),
		Errors:       []string{},
		CreatedTeams: []string{},
	}

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return result, err
	}
	teamCache := make(map[string]int64, len(teams))
	for _, t := range teams {
		teamCache[t.Name] = t.ID
	}

	for i, row := range users {
		rowNum := i + 2 // Excel行号，含表头

		var teamID *int64
		if row.TeamName != "" {
			id, ok := teamCache[row.TeamName]
			if !ok {
				t, err := s.CreateTeam(ctx, row.TeamName)
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, fmt.Sprintf("row %d: create team %q: %v", rowNum, row.TeamName, err))
					continue
				}
				id = t.ID
				teamCache[t.Name] = id
				result.CreatedTeams = append(result.CreatedTeams, t.Name)
			}
			teamID = &id
		}

		_, err := s.CreateUser(ctx, CreateUserRequest{
			Username:    row.Username,
			DisplayName: row.DisplayName,
			Password:    row.Password,
			TeamID:      teamID,
		})
		if err != nil {
			if !errors.Is(err, ErrInvalidInput) && !errors.Is(err, store.ErrDuplicate) {
				return result, err
			}
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		result.Success++
	}

	log.Printf("[Admin] user import: total=%d success=%d failed=%d teams=%d",
		result.Total, result.Success, result.Failed, len(result.CreatedTeams))
	return result, nil
}

// HandleImportUsers 导入用户，支持JSON或上传Excel（表单字段 file）
func HandleImportUsers(c *gin.Context, svc *Service) {
	var users []ImportUserRow
	if file, _, err := c.Request.FormFile("file"); err == nil {
		defer file.Close()
		users, err = ParseUserSheet(file)
		if err != nil {
			writeError(c, err)
			return
		}
	} else {
		var req struct {
			Users []ImportUserRow `json:"users"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Users) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
			return
		}
		users = req.Users
	}

	result, err := svc.ImportUsers(c.Request.Context(), users)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
