// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ctfscore/server/scoring"
	"ctfscore/server/store"
)

func linearReq() ChallengeRequest {
	return ChallengeRequest{
		Name:          "baby-web",
		Category:      "web",
		Flag:          "flag{x}",
		ScoringPolicy: "Linear",
		InitialValue:  500,
		DecayRate:     50,
		MinimumValue:  100,
	}
}

func TestCreateChallenge(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	ch, err := svc.Create(ctx, linearReq())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ch.CurrentValue != 450 {
		t.Errorf("currentValue = %d, want 450", ch.CurrentValue)
	}

	tests := []struct {
		name   string
		mutate func(r *ChallengeRequest)
		want   error
	}{
		{"empty name", func(r *ChallengeRequest) { r.Name = " " }, ErrInvalidChallenge},
		{"empty flag", func(r *ChallengeRequest) { r.Flag = "" }, ErrInvalidChallenge},
		{"unknown policy", func(r *ChallengeRequest) { r.ScoringPolicy = "Exponential" }, scoring.ErrConfiguration},
		{"log zero decay", func(r *ChallengeRequest) { r.ScoringPolicy = "Logarithmic"; r.DecayRate = 0 }, scoring.ErrConfiguration},
		{"minimum above initial", func(r *ChallengeRequest) { r.MinimumValue = 600 }, scoring.ErrConfiguration},
		{"negative initial", func(r *ChallengeRequest) { r.InitialValue = -1 }, scoring.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := linearReq()
			tt.mutate(&req)
			if _, err := svc.Create(ctx, req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// solve 直接通过存储追加一次解题
func solve(t *testing.T, st store.Store, id int64, userID int64) {
	t.Helper()
	err := st.WithChallengeLock(context.Background(), id, func(tx store.ChallengeTx) error {
		ch := tx.Challenge()
		next := scoring.Next(ch.Params, len(ch.SolvedByUsers)+1)
		return tx.AppendSolve(store.SolveEntry{ID: userID, Time: time.Now(), PointsAwarded: ch.CurrentValue}, nil, next)
	})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
}

func TestUpdateChallenge(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)
	ctx := context.Background()

	ch, _ := svc.Create(ctx, linearReq())

	// 无人解出时可以任意调整
	req := linearReq()
	req.InitialValue = 1000
	req.MinimumValue = 200
	up, err := svc.Update(ctx, ch.ID, req)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.CurrentValue != 950 {
		t.Errorf("currentValue = %d, want 950", up.CurrentValue)
	}

	solve(t, st, ch.ID, 1)
	solve(t, st, ch.ID, 2)
	got, _ := svc.Get(ctx, ch.ID)
	if got.CurrentValue != 850 {
		t.Fatalf("currentValue after 2 solves = %d, want 850", got.CurrentValue)
	}

	// 提高分值会让衰减倒退
	req.InitialValue = 2000
	if _, err := svc.Update(ctx, ch.ID, req); !errors.Is(err, scoring.ErrConfiguration) {
		t.Errorf("raising value err = %v, want ErrConfiguration", err)
	}

	// 换成更快的衰减，按已有2次解题重新计算，历史不变
	req = linearReq()
	req.Flag = "flag{y}"
	up, err = svc.Update(ctx, ch.ID, req)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.CurrentValue != 350 || up.Flag != "flag{y}" || len(up.SolvedByUsers) != 2 {
		t.Errorf("updated = %+v", up)
	}
	if up.SolvedByUsers[0].PointsAwarded != 950 {
		t.Errorf("history rewritten: %+v", up.SolvedByUsers)
	}

	if _, err := svc.Update(ctx, 999, linearReq()); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("unknown challenge err = %v", err)
	}
}

func TestListPublic(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)
	ctx := context.Background()

	ch, _ := svc.Create(ctx, linearReq())
	err := st.WithChallengeLock(ctx, ch.ID, func(tx store.ChallengeTx) error {
		now := time.Now()
		return tx.AppendSolve(store.SolveEntry{ID: 7, Time: now, PointsAwarded: 450}, &store.SolveEntry{ID: 3, Time: now, PointsAwarded: 450}, 400)
	})
	if err != nil {
		t.Fatal(err)
	}

	list, err := svc.ListPublic(ctx, 7)
	if err != nil {
		t.Fatalf("ListPublic: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d", len(list))
	}
	pc := list[0]
	if !pc.Solved || pc.SolveCount != 1 || pc.CurrentValue != 400 || pc.FirstBloodTeamID == nil || *pc.FirstBloodTeamID != 3 {
		t.Errorf("public = %+v", pc)
	}
	data, _ := json.Marshal(pc)
	if bytes.Contains(data, []byte("flag{x}")) {
		t.Error("flag leaked in public view")
	}
}

const sampleYAML = `
challenges:
  - name: baby-web
    category: web
    flag: flag{a}
    scoringPolicy: Linear
    initialValue: 500
    decayRate: 50
    minimumValue: 100
  - name: rsa
    category: crypto
    flag: flag{b}
    scoringPolicy: logarithmic
    initialValue: 500
    decayRate: 20
    minimumValue: 100
  - name: broken
    category: misc
    flag: flag{c}
    scoringPolicy: Logarithmic
    initialValue: 500
    decayRate: 0
`

func TestImport(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	results, err := svc.Import(ctx, []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := []string{"created", "created", "failed"}
	for i, r := range results {
		if r.Status != want[i] {
			t.Errorf("[%d] %s = %s (%s), want %s", i, r.Name, r.Status, r.Message, want[i])
		}
	}

	// 再次导入同名题目跳过
	results, err = svc.Import(ctx, []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if results[0].Status != "skipped" || results[1].Status != "skipped" {
		t.Errorf("re-import = %+v", results)
	}
	list, _ := svc.List(ctx)
	if len(list) != 2 {
		t.Errorf("challenges = %d, want 2", len(list))
	}
	if list[1].Policy != scoring.PolicyLogarithmic || list[1].CurrentValue != 499 {
		t.Errorf("rsa = %+v", list[1])
	}

	if _, err := svc.Import(ctx, []byte("challenges: [")); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestImportFile(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	path := filepath.Join(t.TempDir(), "challenges.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := svc.ImportFile(context.Background(), path); err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if err := svc.ImportFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestChallengeHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(store.NewMemoryStore())
	r := gin.New()
	r.POST("/challenges", func(c *gin.Context) { HandleCreateChallenge(c, svc) })
	r.PUT("/challenges/:id", func(c *gin.Context) { HandleUpdateChallenge(c, svc) })
	r.GET("/challenges/:id", func(c *gin.Context) { HandleGetChallenge(c, svc) })
	r.POST("/challenges/import", func(c *gin.Context) { HandleImportChallenges(c, svc) })

	body, _ := json.Marshal(linearReq())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/challenges", bytes.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var created store.Challenge
	json.Unmarshal(w.Body.Bytes(), &created)

	bad := linearReq()
	bad.ScoringPolicy = "Logarithmic"
	bad.DecayRate = 0
	body, _ = json.Marshal(bad)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/challenges", bytes.NewReader(body)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/challenges/"+strconv.FormatInt(created.ID, 10), nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("flag{x}")) {
		t.Errorf("get = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/challenges/999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/challenges/import", bytes.NewReader([]byte(sampleYAML)))
	req.Header.Set("Content-Type", "application/yaml")
	r.ServeHTTP(w, req)
	var out struct {
		Created int `json:"created"`
		Failed  int `json:"failed"`
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	// baby-web 已通过接口创建，导入时跳过
	if w.Code != http.StatusOK || out.Created != 1 || out.Failed != 1 {
		t.Errorf("import = %d %s", w.Code, w.Body.String())
	}
}
