package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"agridetect/internal/models"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 3650
	defaultMapPoints = 500
	maxMapPoints     = 5000
	topDiseases      = 5
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultStatsDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if days == 0 || days > maxStatsDays {
		days = defaultStatsDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	st, err := s.analytics.Stats(r.Context(), since, topDiseases)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, st)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultMapPoints)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 || limit > maxMapPoints {
		limit = defaultMapPoints
	}
	points, err := s.analytics.MapPoints(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleListDiseases(w http.ResponseWriter, r *http.Request) {
	list, err := s.diseases.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"diseases": list})
}

type upsertDiseaseRequest struct {
	Treatment []string `json:"treatment"`
}

func (s *Server) handleUpsertDisease(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(mux.Vars(r)["name"])
	var req upsertDiseaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("invalid JSON body"))
		return
	}
	steps := make([]string, 0, len(req.Treatment))
	for _, t := range req.Treatment {
		if t = strings.TrimSpace(t); t != "" {
			steps = append(steps, t)
		}
	}
	if name == "" || len(steps) == 0 {
		s.writeError(w, r, badRequest("disease name and at least one treatment step are required"))
		return
	}
	d := &models.Disease{Name: name, Treatment: steps, UpdatedAt: time.Now().UTC()}
	if err := s.diseases.Upsert(r.Context(), d); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, d)
}
