package api

import (
	"net/http"

	"github.com/seantiz/taskloop/internal/model"
	"github.com/seantiz/taskloop/internal/snapshot"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total    int                  `json:"total"`
	Active   int                  `json:"active"`
	ByStatus map[model.Status]int `json:"by_status"`
	Statuses []model.Status       `json:"statuses"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	sum := s.manager.Summary()
	byStatus := make(map[model.Status]int, len(model.Statuses()))
	for _, st := range model.Statuses() {
		byStatus[st] = sum.Count(st)
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:    sum.Total,
		Active:   sum.Active,
		ByStatus: byStatus,
		Statuses: model.Statuses(),
	})
}

// tableResponse is the JSON response for GET /v1/table.
type tableResponse struct {
	Columns []string       `json:"columns"`
	Rows    []snapshot.Row `json:"rows"`
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	if s.table == nil {
		s.writeError(w, http.StatusServiceUnavailable, "task table is not being recorded")
		return
	}

	rows, err := s.table.Rows(r.Context())
	if err != nil {
		s.logger.Error("read task table", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read task table")
		return
	}
	if rows == nil {
		rows = []snapshot.Row{}
	}

	s.writeJSON(w, http.StatusOK, tableResponse{
		Columns: snapshot.Header,
		Rows:    rows,
	})
}
