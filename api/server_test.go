package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/adda/auth"
	"github.com/tcriess/adda/blobstore"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/lifecycle"
	"github.com/tcriess/adda/moderation"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type testServer struct {
	srv   *httptest.Server
	store *persistence.GormPersist
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.PersistenceConfig.DSN = filepath.Join(dir, "adda.db")
	cfg.AuthConfig.JWTSecret = "test-secret"
	cfg.AdminUsers = []string{"admin@example.com"}
	cfg.BlobConfig.Dir = filepath.Join(dir, "blobs")
	cfg.BlobConfig.Index = ""

	cfg.PolicyConfig.FeedDebounce = 10 * time.Millisecond
	cfg.PolicyConfig.PollInterval = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := realtime.NewHub()
	go hub.Run(ctx)
	store, err := persistence.NewGormPersister(cfg, hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blobstore.New(cfg.BlobConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })
	authenticator, err := auth.NewAuthenticator(cfg, store, auth.NewLogMailer())
	require.NoError(t, err)

	server := NewServer(authenticator, lifecycle.NewController(store, blobs, cfg.PolicyConfig), moderation.NewGate(store), store, blobs, hub, cfg.PolicyConfig)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "image/png"
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) signUp(t *testing.T, email string) *auth.Session {
	t.Helper()
	resp, data := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": email, "password": "secret1", "name": strings.Split(email, "@")[0]})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	session := &auth.Session{}
	require.NoError(t, json.Unmarshal(data, session))
	return session
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func TestRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/api/hangouts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/hangouts", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignInErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "mina@example.com")

	resp, data := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "mina@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := errorBody{}
	decode(t, data, &body)
	assert.Equal(t, "email_taken", body.Error)

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "mina@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = ts.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "mina@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := auth.Session{}
	decode(t, data, &session)
	assert.NotEmpty(t, session.Token)

	resp, data = ts.do(t, http.MethodGet, "/api/me", session.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := map[string]interface{}{}
	decode(t, data, &me)
	assert.Equal(t, "mina", me["name"])
	assert.Equal(t, true, me["needs_onboarding"])
}

func TestHangoutFlow(t *testing.T) {
	ts := newTestServer(t)
	host := ts.signUp(t, "host@example.com")
	guest := ts.signUp(t, "guest@example.com")
	other := ts.signUp(t, "other@example.com")

	resp, data := ts.do(t, http.MethodPost, "/api/hangouts", host.Token, map[string]interface{}{
		"activity_type": "Coffee", "title": "", "location_text": "Library", "start_time": time.Now().Add(time.Hour), "max_participants": 2,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := errorBody{}
	decode(t, data, &body)
	assert.Equal(t, "title", body.Field)

	resp, data = ts.do(t, http.MethodPost, "/api/hangouts", host.Token, map[string]interface{}{
		"activity_type": "Coffee", "title": "Coffee break", "location_text": "Library", "start_time": time.Now().Add(time.Hour), "max_participants": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	hangout := types.Hangout{}
	decode(t, data, &hangout)

	resp, data = ts.do(t, http.MethodGet, "/api/hangouts", guest.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cards := make([]*lifecycle.Card, 0)
	decode(t, data, &cards)
	require.Len(t, cards, 1)
	assert.Equal(t, 1, cards[0].Summary.ApprovedCount)

	resp, data = ts.do(t, http.MethodPost, "/api/hangouts/"+hangout.Id+"/join", guest.Token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	participant := types.Participant{}
	decode(t, data, &participant)
	assert.Equal(t, types.ParticipantPending, participant.Status)

	resp, data = ts.do(t, http.MethodPost, "/api/hangouts/"+hangout.Id+"/join", guest.Token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	decode(t, data, &body)
	assert.Equal(t, "duplicate_request", body.Error)

	resp, _ = ts.do(t, http.MethodPost, "/api/participants/"+participant.Id+"/decision", other.Token, map[string]bool{"approve": true})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, data = ts.do(t, http.MethodPost, "/api/participants/"+participant.Id+"/decision", host.Token, map[string]bool{"approve": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = ts.do(t, http.MethodPost, "/api/hangouts/"+hangout.Id+"/join", other.Token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, data, &participant)
	resp, data = ts.do(t, http.MethodPost, "/api/participants/"+participant.Id+"/decision", host.Token, map[string]bool{"approve": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	decode(t, data, &body)
	assert.Equal(t, "hangout_full", body.Error)

	resp, data = ts.do(t, http.MethodGet, "/api/hangouts/"+hangout.Id, other.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := lifecycle.Detail{}
	decode(t, data, &detail)
	assert.True(t, detail.Summary.IsFull)
	assert.False(t, detail.Capabilities.CanChat)
	assert.True(t, detail.Capabilities.CanReport)

	resp, data = ts.do(t, http.MethodPost, "/api/hangouts/"+hangout.Id+"/messages", guest.Token, map[string]string{"content": "see you there"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	resp, _ = ts.do(t, http.MethodGet, "/api/hangouts/"+hangout.Id+"/messages", other.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = ts.do(t, http.MethodGet, "/api/notifications", host.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	notifications := make([]*types.Notification, 0)
	decode(t, data, &notifications)
	assert.Len(t, notifications, 2)

	resp, _ = ts.do(t, http.MethodGet, "/api/hangouts/unknown", guest.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = ts.do(t, http.MethodGet, "/api/me/chats", guest.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	chats := lifecycle.ChatList{}
	decode(t, data, &chats)
	require.Len(t, chats.Active, 1)
	assert.Equal(t, hangout.Id, chats.Active[0].Hangout.Id)
	assert.Empty(t, chats.Past)

	resp, data = ts.do(t, http.MethodGet, "/api/me/hangouts", host.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, data, &cards)
	require.Len(t, cards, 1)
	assert.Equal(t, hangout.Id, cards[0].Hangout.Id)

	resp, data = ts.do(t, http.MethodGet, "/api/profiles/"+guest.Identity.UserId+"/hangouts", other.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, data, &cards)
	assert.Empty(t, cards)
	resp, _ = ts.do(t, http.MethodGet, "/api/profiles/unknown/hangouts", other.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/hangouts/"+hangout.Id, guest.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/api/hangouts/"+hangout.Id, host.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAvatarUploadAndMedia(t *testing.T) {
	ts := newTestServer(t)
	user := ts.signUp(t, "mina@example.com")

	resp, _ := ts.do(t, http.MethodPost, "/api/me/avatar", user.Token, []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data := ts.do(t, http.MethodPost, "/api/me/avatar", user.Token, pngData)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	profile := types.Profile{}
	decode(t, data, &profile)
	require.True(t, strings.HasPrefix(profile.AvatarUrl, "/media/avatars/"), profile.AvatarUrl)

	resp, data = ts.do(t, http.MethodGet, profile.AvatarUrl, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, pngData, data)

	resp, _ = ts.do(t, http.MethodGet, "/media/avatars/missing.png", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModerationRoutes(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "admin@example.com")
	reporter := ts.signUp(t, "reporter@example.com")
	target := ts.signUp(t, "target@example.com")

	resp, data := ts.do(t, http.MethodPost, "/api/reports", reporter.Token, map[string]interface{}{
		"target": map[string]string{"user_id": target.Identity.UserId}, "reason": "Spam",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	report := types.Report{}
	decode(t, data, &report)

	resp, _ = ts.do(t, http.MethodGet, "/api/admin/reports", reporter.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = ts.do(t, http.MethodGet, "/api/admin/reports?tab=pending", admin.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	reports := make([]*types.Report, 0)
	decode(t, data, &reports)
	assert.Len(t, reports, 1)

	resp, data = ts.do(t, http.MethodPost, "/api/admin/reports/"+report.Id+"/ban", admin.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	decode(t, data, &report)
	assert.Equal(t, types.ReportActioned, report.Status)

	resp, data = ts.do(t, http.MethodGet, "/api/admin/stats", admin.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := moderation.Stats{}
	decode(t, data, &stats)
	assert.Equal(t, moderation.Stats{Actioned: 1, Total: 1}, stats)

	profile, err := ts.store.GetProfile(context.Background(), target.Identity.UserId)
	require.NoError(t, err)
	assert.True(t, profile.IsBanned)

	resp, _ = ts.do(t, http.MethodPost, "/api/hangouts", target.Token, map[string]interface{}{
		"activity_type": "Walk", "title": "Walk", "location_text": "Park", "start_time": time.Now().Add(time.Hour), "max_participants": 3,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
