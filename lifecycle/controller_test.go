package lifecycle

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/adda/blobstore"
	"github.com/tcriess/adda/clock"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/types"
)

var now = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

type fakeUploader struct {
	uploaded []string
	purged   []string
}

func (f *fakeUploader) UploadChatImage(ctx context.Context, hangoutId, contentType string, r io.Reader) (*blobstore.Blob, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	name := hangoutId + "/img.png"
	f.uploaded = append(f.uploaded, string(data))
	return &blobstore.Blob{Namespace: blobstore.NamespaceChatImages, Name: name, ContentType: contentType,
		Size: int64(len(data)), URL: "/media/chat-images/" + name}, nil
}

func (f *fakeUploader) DeleteChatImages(ctx context.Context, hangoutId string) (int, error) {
	f.purged = append(f.purged, hangoutId)
	return 1, nil
}

type fixture struct {
	store    *persistence.GormPersist
	ctrl     *Controller
	uploader *fakeUploader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.PersistenceConfig.DSN = filepath.Join(t.TempDir(), "adda.db")
	store, err := persistence.NewGormPersister(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.SetClock(func() time.Time { return now })
	uploader := &fakeUploader{}
	ctrl := NewController(store, uploader, cfg.PolicyConfig)
	ctrl.SetClock(func() time.Time { return now })
	for _, id := range []string{"host", "b", "c"} {
		require.NoError(t, store.StoreProfile(context.Background(), &types.Profile{Id: id, Name: id}))
	}
	require.NoError(t, store.StoreProfile(context.Background(), &types.Profile{Id: "admin", Name: "admin", Role: types.RoleAdmin}))
	return &fixture{store: store, ctrl: ctrl, uploader: uploader}
}

func (f *fixture) setNow(t time.Time) {
	f.store.SetClock(func() time.Time { return t })
	f.ctrl.SetClock(func() time.Time { return t })
}

func draft(max int) types.HangoutDraft {
	return types.HangoutDraft{
		ActivityType:    types.ActivityWalk,
		Title:           "Evening walk",
		LocationText:    "Main gate",
		StartTime:       now.Add(time.Hour),
		MaxParticipants: max,
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		edit  func(d *types.HangoutDraft)
		field string
	}{
		{"empty title", func(d *types.HangoutDraft) { d.Title = "   " }, "title"},
		{"long title", func(d *types.HangoutDraft) {
			d.Title = "0123456789012345678901234567890123456789012345678901234567890123456789012345678901"
		}, "title"},
		{"empty location", func(d *types.HangoutDraft) { d.LocationText = "" }, "location_text"},
		{"unknown activity", func(d *types.HangoutDraft) { d.ActivityType = "Party" }, "activity_type"},
		{"too small", func(d *types.HangoutDraft) { d.MaxParticipants = 1 }, "max_participants"},
		{"too large", func(d *types.HangoutDraft) { d.MaxParticipants = 13 }, "max_participants"},
		{"no start", func(d *types.HangoutDraft) { d.StartTime = time.Time{} }, "start_time"},
		{"in the past", func(d *types.HangoutDraft) { d.StartTime = now.Add(-time.Hour) }, "start_time"},
		{"too far ahead", func(d *types.HangoutDraft) { d.StartTime = now.Add(8 * 24 * time.Hour) }, "start_time"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := draft(4)
			c.edit(&d)
			_, err := f.ctrl.Create(ctx, "host", d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrValidation))
			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, c.field, verr.Field)
		})
	}

	hangouts, err := f.store.ListHangouts(ctx, types.HangoutQuery{})
	require.NoError(t, err)
	assert.Empty(t, hangouts)
}

func TestCreateWithinGrace(t *testing.T) {
	f := newFixture(t)
	d := draft(4)
	d.StartTime = now.Add(-2 * time.Minute)
	hangout, err := f.ctrl.Create(context.Background(), "host", d)
	require.NoError(t, err)
	assert.Equal(t, d.StartTime.Add(types.HangoutDuration), hangout.ExpiresAt)
}

func TestCreatorObservableImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hangout, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)

	detail, err := f.ctrl.Detail(ctx, hangout.Id, "host")
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Summary.ApprovedCount)
	assert.Equal(t, types.ParticipantApproved, detail.Summary.MyStatus)
	assert.Equal(t, clock.PhaseNotStarted, detail.Phase)
	assert.True(t, detail.Capabilities.CanChat)
	assert.True(t, detail.Capabilities.CanDecide)
	assert.True(t, detail.Capabilities.CanDelete)
	assert.False(t, detail.Capabilities.CanJoin)
	assert.False(t, detail.Capabilities.CanReport)

	other, err := f.ctrl.Detail(ctx, hangout.Id, "b")
	require.NoError(t, err)
	assert.True(t, other.Capabilities.CanJoin)
	assert.False(t, other.Capabilities.CanChat)
	assert.False(t, other.Capabilities.CanDecide)
	assert.True(t, other.Capabilities.CanReport)
}

func TestJoinBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hangout, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)

	participant, err := f.ctrl.RequestJoin(ctx, hangout.Id, "b")
	require.NoError(t, err)
	assert.Equal(t, types.ParticipantPending, participant.Status)

	again, err := f.ctrl.RequestJoin(ctx, hangout.Id, "b")
	assert.True(t, errors.Is(err, types.ErrDuplicateRequest))
	assert.Equal(t, participant.Id, again.Id)
}

func TestJoinExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hangout, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)
	f.setNow(hangout.ExpiresAt.Add(time.Minute))

	_, err = f.ctrl.RequestJoin(ctx, hangout.Id, "b")
	assert.True(t, errors.Is(err, types.ErrHangoutExpired))

	_, err = f.ctrl.RequestJoin(ctx, "missing", "b")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestFullHangoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hangout, err := f.ctrl.Create(ctx, "host", draft(2))
	require.NoError(t, err)
	b, err := f.ctrl.RequestJoin(ctx, hangout.Id, "b")
	require.NoError(t, err)
	c, err := f.ctrl.RequestJoin(ctx, hangout.Id, "c")
	require.NoError(t, err)

	_, err = f.ctrl.Decide(ctx, b.Id, true, "c")
	assert.True(t, errors.Is(err, types.ErrForbidden))
	_, err = f.ctrl.Decide(ctx, b.Id, true, "host")
	require.NoError(t, err)

	detail, err := f.ctrl.Detail(ctx, hangout.Id, "c")
	require.NoError(t, err)
	assert.True(t, detail.Summary.IsFull)
	assert.Equal(t, 1, detail.Summary.PendingCount)
	assert.Equal(t, types.ParticipantPending, detail.Summary.MyStatus)
	assert.False(t, detail.Capabilities.CanJoin)

	_, err = f.ctrl.Decide(ctx, c.Id, true, "admin")
	assert.True(t, errors.Is(err, types.ErrHangoutFull))
	assert.True(t, errors.Is(err, types.ErrConflict))

	rejected, err := f.ctrl.Decide(ctx, c.Id, false, "host")
	require.NoError(t, err)
	assert.Equal(t, types.ParticipantRejected, rejected.Status)
}

func TestFeedAndRecentlyEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)
	d := draft(4)
	d.ActivityType = types.ActivityStudy
	d.StartTime = now.Add(3 * time.Hour)
	late, err := f.ctrl.Create(ctx, "b", d)
	require.NoError(t, err)

	cards, err := f.ctrl.Feed(ctx, "c", "")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, early.Id, cards[0].Hangout.Id)
	assert.Equal(t, late.Id, cards[1].Hangout.Id)
	assert.Equal(t, 1, cards[0].Summary.ApprovedCount)

	study, err := f.ctrl.Feed(ctx, "c", types.ActivityStudy)
	require.NoError(t, err)
	require.Len(t, study, 1)
	assert.Equal(t, late.Id, study[0].Hangout.Id)

	_, err = f.ctrl.Feed(ctx, "c", "Party")
	assert.True(t, errors.Is(err, types.ErrValidation))

	ended, err := f.ctrl.RecentlyEnded(ctx)
	require.NoError(t, err)
	assert.Nil(t, ended)

	f.setNow(early.ExpiresAt.Add(30 * time.Minute))
	cards, err = f.ctrl.Feed(ctx, "c", "")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, late.Id, cards[0].Hangout.Id)

	ended, err = f.ctrl.RecentlyEnded(ctx)
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, early.Id, ended.Hangout.Id)
	assert.Equal(t, 1, ended.ApprovedCount)
	assert.Equal(t, 30*time.Minute, ended.EndedAgo)
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hangout, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)
	b, err := f.ctrl.RequestJoin(ctx, hangout.Id, "b")
	require.NoError(t, err)

	_, err = f.ctrl.SendMessage(ctx, hangout.Id, "b", "hi")
	assert.True(t, errors.Is(err, types.ErrForbidden))
	_, err = f.ctrl.Messages(ctx, hangout.Id, "b")
	assert.True(t, errors.Is(err, types.ErrForbidden))

	_, err = f.ctrl.Decide(ctx, b.Id, true, "host")
	require.NoError(t, err)
	_, err = f.ctrl.SendMessage(ctx, hangout.Id, "b", "  hi all  ")
	require.NoError(t, err)
	_, err = f.ctrl.SendMessage(ctx, hangout.Id, "b", " ")
	assert.True(t, errors.Is(err, types.ErrValidation))

	f.setNow(now.Add(time.Minute))
	image, err := f.ctrl.SendImage(ctx, hangout.Id, "host", "image/png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeImage, image.MessageType)
	assert.Equal(t, types.ImageMessageContent, image.Content)
	assert.NotEmpty(t, image.MediaUrl)

	_, err = f.ctrl.SendImage(ctx, hangout.Id, "c", "image/png", strings.NewReader("png"))
	assert.True(t, errors.Is(err, types.ErrForbidden))
	assert.Len(t, f.uploader.uploaded, 1)

	messages, err := f.ctrl.Messages(ctx, hangout.Id, "host")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hi all", messages[0].Content)
	assert.Equal(t, types.MessageTypeImage, messages[1].MessageType)

	f.setNow(hangout.ExpiresAt)
	_, err = f.ctrl.SendMessage(ctx, hangout.Id, "b", "still here?")
	assert.True(t, errors.Is(err, types.ErrHangoutExpired))
}

func TestDeleteAndJanitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)
	second, err := f.ctrl.Create(ctx, "host", draft(4))
	require.NoError(t, err)

	err = f.ctrl.DeleteHangout(ctx, first.Id, "b")
	assert.True(t, errors.Is(err, types.ErrForbidden))
	assert.Empty(t, f.uploader.purged)
	require.NoError(t, f.ctrl.DeleteHangout(ctx, first.Id, "admin"))
	_, err = f.ctrl.Detail(ctx, first.Id, "host")
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Equal(t, []string{first.Id}, f.uploader.purged)

	janitor := NewJanitor(f.store, f.uploader, config.CleanupConfig{Cron: "@hourly", Retention: 24 * time.Hour})
	janitor.SetClock(func() time.Time { return second.ExpiresAt.Add(time.Hour) })
	count, err := janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	janitor.SetClock(func() time.Time { return second.ExpiresAt.Add(25 * time.Hour) })
	count, err = janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{first.Id, second.Id}, f.uploader.purged)

	require.NoError(t, janitor.Start())
	janitor.Stop()
	assert.Error(t, NewJanitor(f.store, nil, config.CleanupConfig{Cron: "not a spec"}).Start())
}
