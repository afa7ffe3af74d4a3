package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"time"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExportResponsesCSV renders one row per response with a column per question.
// Configured questions come first in survey order; answers to questions that
// were since removed follow, sorted by id. The output starts with a UTF-8 BOM
// so spreadsheet tools detect the encoding.
func ExportResponsesCSV(rs []*SurveyResponse, questions []SurveyQuestion) ([]byte, error) {
	known := make(map[int64]struct{}, len(questions))
	cols := make([]int64, 0, len(questions))
	header := []string{"id", "created_at", "rating", "comment"}
	for _, q := range questions {
		known[q.ID] = struct{}{}
		cols = append(cols, q.ID)
		header = append(header, "q"+strconv.FormatInt(q.ID, 10)+": "+q.Text)
	}
	var extra []int64
	seen := map[int64]struct{}{}
	for _, r := range rs {
		for id := range r.AllAnswers {
			if _, ok := known[id]; ok {
				continue
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				extra = append(extra, id)
			}
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, id := range extra {
		cols = append(cols, id)
		header = append(header, "q"+strconv.FormatInt(id, 10))
	}

	buf := &bytes.Buffer{}
	buf.Write(utf8BOM)
	w := csv.NewWriter(buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rs {
		row := make([]string, 0, len(header))
		row = append(row, r.ID, r.CreatedAt.UTC().Format(time.RFC3339), strconv.Itoa(r.Rating), r.Comment)
		for _, id := range cols {
			a, ok := r.AllAnswers[id]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, a.String())
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
