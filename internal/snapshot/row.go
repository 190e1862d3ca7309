// Package snapshot renders tracked tasks into the fixed tabular view shown to
// observers and defines the sinks that receive it.
package snapshot

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/seantiz/taskloop/internal/model"
)

// UnprintableInfo replaces task info that cannot be encoded.
const UnprintableInfo = "<unprintable>"

const timeLayout = "15:04:05"

// Header lists the snapshot columns in order.
var Header = []string{"task_id", "status", "description", "duration", "created_at", "completed_at", "error", "info"}

// Row is one rendered task.
type Row struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at"`
	Error       string `json:"error"`
	Info        string `json:"info"`
}

// Values returns the row cells in Header order.
func (r Row) Values() []string {
	return []string{r.TaskID, r.Status, r.Description, r.Duration, r.CreatedAt, r.CompletedAt, r.Error, r.Info}
}

// NewRow renders t as of now.
func NewRow(t *model.Task, now time.Time) Row {
	row := Row{
		TaskID:      strconv.FormatInt(int64(t.ID), 10),
		Status:      string(t.Status),
		Description: t.Description,
		CreatedAt:   t.CreatedAt.Local().Format(timeLayout),
		Error:       t.Error,
		Info:        FormatInfo(t.Info),
	}
	if d, ok := t.Duration(now); ok {
		row.Duration = FormatSeconds(d)
	}
	if t.CompletedAt != nil {
		row.CompletedAt = t.CompletedAt.Local().Format(timeLayout)
	}
	return row
}

// FormatSeconds renders d in seconds rounded to three decimals.
func FormatSeconds(d time.Duration) string {
	secs := math.Round(d.Seconds()*1000) / 1000
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

// FormatInfo renders info as JSON. It returns "" for empty info and
// UnprintableInfo when the value cannot be encoded.
func FormatInfo(info map[string]any) (s string) {
	if len(info) == 0 {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			s = UnprintableInfo
		}
	}()
	b, err := json.Marshal(info)
	if err != nil {
		return UnprintableInfo
	}
	return string(b)
}
