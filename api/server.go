package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/auth"
	"github.com/tcriess/adda/blobstore"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/lifecycle"
	"github.com/tcriess/adda/moderation"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

type contextKey int

const identityKey contextKey = iota

// Server is the JSON HTTP surface of the hangout core.
type Server struct {
	auth       *auth.Authenticator
	controller *lifecycle.Controller
	gate       *moderation.Gate
	store      persistence.Persister
	blobs      *blobstore.Store
	hub        *realtime.Hub
	policy     config.PolicyConfig
	logger     hclog.Logger
}

// NewServer wires the handlers. The hub feeds the live endpoints, policy tunes their debounce and phase polling.
func NewServer(authenticator *auth.Authenticator, controller *lifecycle.Controller, gate *moderation.Gate, store persistence.Persister,
	blobs *blobstore.Store, hub *realtime.Hub, policy config.PolicyConfig) *Server {
	return &Server{
		auth:       authenticator,
		controller: controller,
		gate:       gate,
		store:      store,
		blobs:      blobs,
		hub:        hub,
		policy:     policy,
		logger:     globals.AppLogger.Named("api"),
	}
}

// Router returns the routes of the service. Everything below /api except the auth endpoints needs a bearer token.
// The websocket endpoints below /api/live also take the token as query parameter, browsers cannot set the header.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/media/{namespace}/{name:.+}", s.serveMedia).Methods(http.MethodGet)

	public := router.PathPrefix("/api/auth").Subrouter()
	public.HandleFunc("/signup", s.signUp).Methods(http.MethodPost)
	public.HandleFunc("/signin", s.signIn).Methods(http.MethodPost)
	public.HandleFunc("/oidc/{provider}", s.signInWithIDToken).Methods(http.MethodPost)
	public.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	public.HandleFunc("/password-reset", s.requestPasswordReset).Methods(http.MethodPost)
	public.HandleFunc("/password", s.resetPassword).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.requireIdentity)
	api.HandleFunc("/me", s.getMe).Methods(http.MethodGet)
	api.HandleFunc("/me", s.updateMe).Methods(http.MethodPatch)
	api.HandleFunc("/me/avatar", s.uploadAvatar).Methods(http.MethodPost)
	api.HandleFunc("/me/chats", s.chats).Methods(http.MethodGet)
	api.HandleFunc("/me/hangouts", s.myHangouts).Methods(http.MethodGet)
	api.HandleFunc("/profiles/{id}", s.getProfile).Methods(http.MethodGet)
	api.HandleFunc("/profiles/{id}/hangouts", s.completedHangouts).Methods(http.MethodGet)

	api.HandleFunc("/hangouts", s.feed).Methods(http.MethodGet)
	api.HandleFunc("/hangouts", s.createHangout).Methods(http.MethodPost)
	api.HandleFunc("/hangouts/recently-ended", s.recentlyEnded).Methods(http.MethodGet)
	api.HandleFunc("/hangouts/{id}", s.hangoutDetail).Methods(http.MethodGet)
	api.HandleFunc("/hangouts/{id}", s.deleteHangout).Methods(http.MethodDelete)
	api.HandleFunc("/hangouts/{id}/join", s.requestJoin).Methods(http.MethodPost)
	api.HandleFunc("/hangouts/{id}/messages", s.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/hangouts/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	api.HandleFunc("/hangouts/{id}/images", s.sendImage).Methods(http.MethodPost)
	api.HandleFunc("/participants/{id}/decision", s.decide).Methods(http.MethodPost)

	api.HandleFunc("/notifications", s.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read", s.markNotificationsRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}", s.deleteNotification).Methods(http.MethodDelete)

	api.HandleFunc("/reports", s.submitReport).Methods(http.MethodPost)
	api.HandleFunc("/admin/reports", s.listReports).Methods(http.MethodGet)
	api.HandleFunc("/admin/stats", s.reportStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/reports/{id}/resolve", s.resolveReport).Methods(http.MethodPost)
	api.HandleFunc("/admin/reports/{id}/ban", s.banAndResolve).Methods(http.MethodPost)
	api.HandleFunc("/admin/users/{id}/ban", s.banUser).Methods(http.MethodPost)

	api.HandleFunc("/live/feed", s.feedLive).Methods(http.MethodGet)
	api.HandleFunc("/live/hangouts/{id}", s.hangoutLive).Methods(http.MethodGet)
	api.HandleFunc("/live/hangouts/{id}/messages", s.chatLive).Methods(http.MethodGet)
	api.HandleFunc("/live/notifications", s.notificationsLive).Methods(http.MethodGet)
	return router
}

// requireIdentity checks the bearer token and puts the identity into the request context.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == header {
			token = ""
		}
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing bearer token"})
			return
		}
		identity, err := s.auth.Verify(token)
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func userId(r *http.Request) string {
	identity, _ := r.Context().Value(identityKey).(*auth.Identity)
	if identity == nil {
		return ""
	}
	return identity.UserId
}

func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	blob, content, err := s.blobs.Open(vars["namespace"], vars["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer content.Close()
	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if rs, ok := content.(io.ReadSeeker); ok {
		http.ServeContent(w, r, blob.Name, blob.Created, rs)
		return
	}
	s.writeError(w, r, types.ErrNotFound)
}
