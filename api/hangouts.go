package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tcriess/adda/types"
)

type decisionRequest struct {
	Approve bool `json:"approve"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type markReadRequest struct {
	Ids []string `json:"ids"`
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	cards, err := s.controller.Feed(r.Context(), userId(r), types.ActivityType(r.URL.Query().Get("activity")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cards)
}

func (s *Server) recentlyEnded(w http.ResponseWriter, r *http.Request) {
	ended, err := s.controller.RecentlyEnded(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ended == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, ended)
}

func (s *Server) chats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.controller.Chats(r.Context(), userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chats)
}

func (s *Server) myHangouts(w http.ResponseWriter, r *http.Request) {
	cards, err := s.controller.MyHangouts(r.Context(), userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cards)
}

// completedHangouts lists the hangouts another user took part in.
func (s *Server) completedHangouts(w http.ResponseWriter, r *http.Request) {
	cards, err := s.controller.CompletedHangouts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cards)
}

func (s *Server) createHangout(w http.ResponseWriter, r *http.Request) {
	draft := types.HangoutDraft{}
	err := readJSON(w, r, &draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hangout, err := s.controller.Create(r.Context(), userId(r), draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, hangout)
}

func (s *Server) hangoutDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.controller.Detail(r.Context(), mux.Vars(r)["id"], userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteHangout(w http.ResponseWriter, r *http.Request) {
	err := s.controller.DeleteHangout(r.Context(), mux.Vars(r)["id"], userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestJoin(w http.ResponseWriter, r *http.Request) {
	participant, err := s.controller.RequestJoin(r.Context(), mux.Vars(r)["id"], userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, participant)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	req := decisionRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	participant, err := s.controller.Decide(r.Context(), mux.Vars(r)["id"], req.Approve, userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, participant)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.controller.Messages(r.Context(), mux.Vars(r)["id"], userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	req := messageRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message, err := s.controller.SendMessage(r.Context(), mux.Vars(r)["id"], userId(r), req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, message)
}

// sendImage takes the raw image as request body.
func (s *Server) sendImage(w http.ResponseWriter, r *http.Request) {
	message, err := s.controller.SendImage(r.Context(), mux.Vars(r)["id"], userId(r), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, message)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			s.writeError(w, r, types.NewValidationError("limit", "must be a positive number"))
			return
		}
		limit = n
	}
	notifications, err := s.store.ListNotifications(r.Context(), userId(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, notifications)
}

// markNotificationsRead marks the given notifications read, or all of them when no ids are given.
func (s *Server) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	req := markReadRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.store.MarkNotificationsRead(r.Context(), userId(r), req.Ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteNotification(r.Context(), userId(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
