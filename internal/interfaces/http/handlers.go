package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const defaultRecordLimit = 20

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Assets     int               `json:"assets"`
	Running    int               `json:"running"`
	Components map[string]string `json:"components,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.orch.Status()
	running := 0
	for _, st := range statuses {
		if st.Running {
			running++
		}
	}

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Assets:    len(statuses),
		Running:   running,
	}
	if len(s.extra) > 0 {
		resp.Components = make(map[string]string, len(s.extra))
		for name, state := range s.extra {
			resp.Components[name] = state()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleAssetRecords(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.orch.Asset(id); !ok {
		s.writeError(w, http.StatusNotFound, "unknown asset "+id)
		return
	}

	limit := defaultRecordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer in [1,500]")
			return
		}
		limit = parsed
	}

	records, err := s.reader.ReadRecent(r.Context(), id, limit)
	if err != nil {
		log.Error().Err(err).Str("asset", id).Msg("failed to read ledger records")
		s.writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAssetHealth(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.orch.Asset(id); !ok {
		s.writeError(w, http.StatusNotFound, "unknown asset "+id)
		return
	}

	health, err := s.health.ReadHealth(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("asset", id).Msg("failed to read asset health")
		s.writeError(w, http.StatusInternalServerError, "health store unavailable")
		return
	}
	if health == nil {
		s.writeError(w, http.StatusNotFound, "asset "+id+" has not been classified yet")
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleAssetStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.StartAsset(id); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"asset": id, "status": "started"})
}

func (s *Server) handleAssetStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.StopAsset(id); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"asset": id, "status": "stopped"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, "no such endpoint: "+r.URL.Path)
}
