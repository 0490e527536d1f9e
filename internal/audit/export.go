package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "created_at", "type", "source", "user_id", "actor_name", "updated_user_id", "message"}

// WriteCSV encodes rows for download.
func WriteCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.CreatedAt.UTC().Format(time.RFC3339),
			string(row.Type),
			string(row.Source),
			row.UserID,
			deref(row.ActorName),
			deref(row.UpdatedUserID),
			row.Message,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
