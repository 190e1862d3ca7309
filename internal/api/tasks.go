package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/seantiz/taskloop/internal/engine"
	"github.com/seantiz/taskloop/internal/model"
	"github.com/seantiz/taskloop/internal/work"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

var validate = validator.New()

// createTaskRequest is the JSON body for POST /v1/tasks.
type createTaskRequest struct {
	Kind        string          `json:"kind" validate:"required"`
	Params      json.RawMessage `json:"params"`
	Description string          `json:"description" validate:"max=200"`
	TimeoutS    float64         `json:"timeout_s" validate:"gte=0"`
	Info        map[string]any  `json:"info"`
	Count       int             `json:"count" validate:"omitempty,min=1,max=100"`
}

// createTaskResponse lists the IDs of the scheduled tasks. TaskID is the last
// one.
type createTaskResponse struct {
	TaskID  model.ID   `json:"task_id"`
	TaskIDs []model.ID `json:"task_ids"`
}

// listTasksResponse wraps the paginated list response.
type listTasksResponse struct {
	Tasks  []model.TaskInfo `json:"tasks"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type resultResponse struct {
	TaskID model.ID        `json:"task_id"`
	Status model.Status    `json:"status"`
	Result json.RawMessage `json:"result"`
}

type countResponse struct {
	Count int `json:"count"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count := max(req.Count, 1)
	units := make([]engine.Work, 0, count)
	for range count {
		wk, err := s.kinds.Build(req.Kind, req.Params)
		if errors.Is(err, work.ErrUnknownKind) || errors.Is(err, work.ErrInvalidParams) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			s.logger.Error("build work", "kind", req.Kind, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to build work")
			return
		}
		units = append(units, wk)
	}

	opts := []engine.RunOption{
		engine.WithTimeout(time.Duration(req.TimeoutS * float64(time.Second))),
	}
	if req.Description != "" {
		opts = append(opts, engine.WithDescription(req.Description))
	}
	if len(req.Info) > 0 {
		opts = append(opts, engine.WithInfo(req.Info))
	}

	ids, err := s.manager.RunBatch(units, opts...)
	if err != nil {
		s.logger.Error("submit task", "kind", req.Kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, createTaskResponse{
		TaskID:  ids[len(ids)-1],
		TaskIDs: ids,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks := s.manager.GetAllTasksInfo()
	if status := model.Status(r.URL.Query().Get("status")); status != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	total := len(tasks)
	page := []model.TaskInfo{}
	if offset < total {
		page = tasks[offset:min(offset+limit, total)]
	}

	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  page,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	info, err := s.manager.GetTaskInfo(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	info, err := s.manager.GetTaskInfo(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if info.Status != model.StatusCompleted {
		s.writeError(w, http.StatusConflict, "task has not completed")
		return
	}

	result, err := s.manager.GetTaskResult(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encode task result", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "task result is not JSON encodable")
		return
	}

	s.writeJSON(w, http.StatusOK, resultResponse{
		TaskID: id,
		Status: info.Status,
		Result: encoded,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	if !s.manager.CancelTask(id) {
		if _, err := s.manager.GetTaskInfo(id); errors.Is(err, engine.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.writeError(w, http.StatusConflict, "task already finished")
		return
	}

	info, err := s.manager.GetTaskInfo(id)
	if err != nil {
		s.logger.Error("get cancelled task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleCancelActive(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, countResponse{Count: s.manager.CancelActive()})
}

func (s *Server) handleClearFinished(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, countResponse{Count: s.manager.ClearFinished()})
}

func (s *Server) handleClearAll(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, countResponse{Count: s.manager.ClearAll()})
}

// taskID parses the {id} URL parameter, writing a 400 response when it is
// not a positive integer.
func (s *Server) taskID(w http.ResponseWriter, r *http.Request) (model.ID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return model.ID(n), true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
