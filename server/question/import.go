// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package question

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

// ChallengeFile 题目定义文件
//
//	challenges:
//	  - name: baby-web
//	    category: web
//	    flag: flag{...}
//	    scoringPolicy: Linear
//	    initialValue: 500
//	    decayRate: 50
//	    minimumValue: 100
type ChallengeFile struct {
	Challenges []ChallengeRequest `yaml:"challenges"`
}

// ImportResult 单条导入结果
type ImportResult struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	ID      int64  `json:"id,omitempty"`
	Status  string `json:"status"` // created, skipped, failed
	Message string `json:"message,omitempty"`
}

// ParseChallengeFile 解析 YAML
func ParseChallengeFile(data []byte) (*ChallengeFile, error) {
	var f ChallengeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse challenge file: %w", err)
	}
	return &f, nil
}

// Import 逐条校验并创建；同名题目已存在时跳过，重复导入同一文件不会产生重复题目
func (s *Service) Import(ctx context.Context, data []byte) ([]ImportResult, error) {
	f, err := ParseChallengeFile(data)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListChallenges(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(existing))
	for _, ch := range existing {
		names[ch.Name] = true
	}

	results := make([]ImportResult, 0, len(f.Challenges))
	for i, req := range f.Challenges {
		res := ImportResult{Index: i, Name: strings.TrimSpace(req.Name)}
		if names[res.Name] {
			res.Status = "skipped"
			res.Message = "challenge with this name already exists"
			results = append(results, res)
			continue
		}
		ch, err := s.Create(ctx, req)
		if err != nil {
			res.Status = "failed"
			res.Message = err.Error()
		} else {
			res.Status = "created"
			res.ID = ch.ID
			names[ch.Name] = true
		}
		results = append(results, res)
	}
	return results, nil
}

// ImportFile 启动时从文件导入
func (s *Service) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	results, err := s.Import(ctx, data)
	if err != nil {
		return err
	}
	created, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "created":
			created++
		case "skipped":
			skipped++
		default:
			failed++
			log.Printf("[Question] import %q failed: %s", r.Name, r.Message)
		}
	}
	log.Printf("[Question] imported %s: created=%d skipped=%d failed=%d", path, created, skipped, failed)
	return nil
}

// HandleImportChallenges 批量导入题目（multipart 文件字段 file，或请求体直接为 YAML）
func HandleImportChallenges(c *gin.Context, svc *Service) {
	var data []byte
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, ferr := c.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Please upload a YAML file."})
			return
		}
		src, oerr := file.Open()
		if oerr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file."})
			return
		}
		defer src.Close()
		data, err = io.ReadAll(src)
	} else {
		data, err = io.ReadAll(c.Request.Body)
	}
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty challenge file."})
		return
	}

	results, err := svc.Import(c.Request.Context(), data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case "created":
			created++
		case "failed":
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"created": created,
		"failed":  failed,
		"total":   len(results),
		"results": results,
	})
}
