// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package submission

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"ctfscore/server/store"
)

const exportSheet = "Submissions"

// ExportSubmissions 将符合条件的提交流水写成 xlsx
func (s *Service) ExportSubmissions(ctx context.Context, f store.SubmissionFilter, w io.Writer) (int, error) {
	f.Limit, f.Offset = 0, 0
	subs, _, err := s.store.ListSubmissions(ctx, f)
	if err != nil {
		return 0, err
	}
	userNames, teamNames, err := s.names(ctx)
	if err != nil {
		return 0, err
	}
	challengeNames := make(map[int64]string)
	challenges, err := s.store.ListChallenges(ctx)
	if err != nil {
		return 0, err
	}
	for _, ch := range challenges {
		challengeNames[ch.ID] = ch.Name
	}

	xf := excelize.NewFile()
	defer xf.Close()
	xf.SetSheetName("Sheet1", exportSheet)

	headers := []string{"ID", "Time", "Challenge", "User", "Team", "Flag", "Outcome", "Points", "Policy", "IP"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		xf.SetCellValue(exportSheet, cell, h)
	}
	headerStyle, _ := xf.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"FF6B00"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	xf.SetCellStyle(exportSheet, "A1", "J1", headerStyle)

	xf.SetColWidth(exportSheet, "A", "A", 38)
	xf.SetColWidth(exportSheet, "B", "B", 20)
	xf.SetColWidth(exportSheet, "C", "E", 20)
	xf.SetColWidth(exportSheet, "F", "F", 30)
	xf.SetColWidth(exportSheet, "G", "J", 12)

	for i, sub := range subs {
		row := []interface{}{
			sub.ID,
			sub.Time.Format("2006-01-02 15:04:05"),
			challengeNames[sub.ChallengeID],
			userNames[sub.UserID],
			teamNames[sub.TeamID],
			sub.ProvidedFlag,
			string(sub.Outcome),
			sub.PointsAwarded,
			string(sub.ScoringPolicyAtSubmission),
			sub.IPAddress,
		}
		for j, val := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			xf.SetCellValue(exportSheet, cell, val)
		}
	}

	if err := xf.Write(w); err != nil {
		return 0, fmt.Errorf("write xlsx: %w", err)
	}
	return len(subs), nil
}
