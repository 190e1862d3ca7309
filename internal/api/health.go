package api

import (
	"net/http"
)

type healthResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		InstanceID: s.manager.InstanceID(),
	})
}
