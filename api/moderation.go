package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tcriess/adda/moderation"
	"github.com/tcriess/adda/types"
)

type reportRequest struct {
	Target  types.ReportTarget `json:"target"`
	Reason  string             `json:"reason"`
	Details string             `json:"details"`
}

type resolveRequest struct {
	Status types.ReportStatus `json:"status"`
}

type banRequest struct {
	Reason string `json:"reason"`
}

type banResponse struct {
	RemovedRequests int `json:"removed_requests"`
}

func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	req := reportRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.gate.SubmitReport(r.Context(), userId(r), req.Target, req.Reason, req.Details)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, report)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.gate.Reports(r.Context(), userId(r), moderation.Tab(r.URL.Query().Get("tab")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reports)
}

func (s *Server) reportStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gate.Stats(r.Context(), userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) resolveReport(w http.ResponseWriter, r *http.Request) {
	req := resolveRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.gate.Resolve(r.Context(), mux.Vars(r)["id"], req.Status, userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) banAndResolve(w http.ResponseWriter, r *http.Request) {
	report, err := s.gate.BanAndResolve(r.Context(), mux.Vars(r)["id"], userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) banUser(w http.ResponseWriter, r *http.Request) {
	req := banRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	removed, err := s.gate.BanUser(r.Context(), mux.Vars(r)["id"], req.Reason, userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, banResponse{RemovedRequests: removed})
}
