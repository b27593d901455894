package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tcriess/adda/auth"
	"github.com/tcriess/adda/types"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type idTokenRequest struct {
	IdToken string `json:"id_token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type newPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type meResponse struct {
	*types.Profile
	Tier            types.RepTier `json:"tier"`
	NeedsOnboarding bool          `json:"needs_onboarding"`
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	req := auth.SignUpRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.auth.SignUp(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	req := signInRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) signInWithIDToken(w http.ResponseWriter, r *http.Request) {
	req := idTokenRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.auth.SignInWithIDToken(r.Context(), mux.Vars(r)["provider"], req.IdToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	req := tokenRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.auth.Refresh(req.Token)
	if err != nil {
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	req := resetRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.auth.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	req := newPasswordRequest{}
	err := readJSON(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.auth.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.GetProfile(r.Context(), userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meResponse{Profile: profile, Tier: profile.Tier(), NeedsOnboarding: profile.NeedsOnboarding()})
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	update := types.ProfileUpdate{}
	err := readJSON(w, r, &update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = types.ValidateStruct(&update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := s.store.UpdateProfile(r.Context(), userId(r), update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meResponse{Profile: profile, Tier: profile.Tier(), NeedsOnboarding: profile.NeedsOnboarding()})
}

// uploadAvatar takes the raw image as request body and points the profile at it.
func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	blob, err := s.blobs.UploadAvatar(r.Context(), userId(r), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := s.store.UpdateProfile(r.Context(), userId(r), types.ProfileUpdate{AvatarUrl: &blob.URL})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.GetProfile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}
