package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/adda/capacity"
	"github.com/tcriess/adda/lifecycle"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

func startHub(t *testing.T) *realtime.Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := realtime.NewHub()
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func changeEvent(t *testing.T, table string, kind types.ChangeKind, id string, row interface{}) *types.ChangeEvent {
	t.Helper()
	data, err := json.Marshal(row)
	require.NoError(t, err)
	record := make(map[string]interface{})
	require.NoError(t, json.Unmarshal(data, &record))
	return &types.ChangeEvent{Id: "ev-" + id, Table: table, Kind: kind, RecordId: id, Record: record, Created: now}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

type fakeMessages struct {
	history []*types.Message
}

func (f *fakeMessages) Messages(ctx context.Context, hangoutId, viewerId string) ([]*types.Message, error) {
	if viewerId == "outsider" {
		return nil, fmt.Errorf("not a member: %w", types.ErrForbidden)
	}
	return f.history, nil
}

type countingProfiles struct {
	mu      sync.Mutex
	lookups map[string]int
}

func (c *countingProfiles) GetProfile(ctx context.Context, id string) (*types.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups[id]++
	if id == "ghost" {
		return nil, types.ErrNotFound
	}
	return &types.Profile{Id: id, Name: "name of " + id}, nil
}

func (c *countingProfiles) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups[id]
}

func TestChatViewSeedsAndEnriches(t *testing.T) {
	hub := startHub(t)
	seeded := message("m1", time.Second, "hello")
	seeded.User = &types.Profile{Id: "u1", Name: "Mina"}
	source := &fakeMessages{history: []*types.Message{seeded}}
	profiles := &countingProfiles{lookups: make(map[string]int)}

	v, err := NewChatView(hub, source, profiles, "h1", "u1")
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))
	require.Len(t, v.Messages(), 1)

	later := &types.Message{Id: "m3", HangoutId: "h1", UserId: "u2", Content: "third", CreatedAt: now.Add(3 * time.Second)}
	earlier := &types.Message{Id: "m2", HangoutId: "h1", UserId: "u1", Content: "second", CreatedAt: now.Add(2 * time.Second)}
	other := &types.Message{Id: "x1", HangoutId: "h2", UserId: "u1", Content: "elsewhere", CreatedAt: now}
	hub.Publish(
		changeEvent(t, types.TableMessages, types.ChangeInsert, later.Id, later),
		changeEvent(t, types.TableMessages, types.ChangeInsert, other.Id, other),
		changeEvent(t, types.TableMessages, types.ChangeInsert, earlier.Id, earlier),
		changeEvent(t, types.TableMessages, types.ChangeInsert, seeded.Id, seeded),
	)
	waitFor(t, func() bool { return len(v.Messages()) == 3 })

	messages := v.Messages()
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(messages))
	require.NotNil(t, messages[1].User)
	assert.Equal(t, "Mina", messages[1].User.Name)
	require.NotNil(t, messages[2].User)
	assert.Equal(t, "name of u2", messages[2].User.Name)
	assert.Equal(t, 0, profiles.count("u1"))
	assert.Equal(t, 1, profiles.count("u2"))

	another := &types.Message{Id: "m4", HangoutId: "h1", UserId: "u2", Content: "fourth", CreatedAt: now.Add(4 * time.Second)}
	ghost := &types.Message{Id: "m5", HangoutId: "h1", UserId: "ghost", Content: "boo", CreatedAt: now.Add(5 * time.Second)}
	hub.Publish(
		changeEvent(t, types.TableMessages, types.ChangeInsert, another.Id, another),
		changeEvent(t, types.TableMessages, types.ChangeInsert, ghost.Id, ghost),
	)
	waitFor(t, func() bool { return len(v.Messages()) == 5 })
	assert.Equal(t, 1, profiles.count("u2"))
	assert.Nil(t, v.Messages()[4].User)
}

func TestChatViewSeedFailure(t *testing.T) {
	hub := startHub(t)
	v, err := NewChatView(hub, &fakeMessages{}, &countingProfiles{lookups: make(map[string]int)}, "h1", "outsider")
	require.NoError(t, err)
	err = v.Start(context.Background())
	assert.ErrorIs(t, err, types.ErrForbidden)
	waitFor(t, func() bool { return hub.NoSubscriptions() == 0 })
	v.Close()
}

type fakeNotifications struct {
	seed []*types.Notification
}

func (f *fakeNotifications) ListNotifications(ctx context.Context, userId string, limit int) ([]*types.Notification, error) {
	return f.seed, nil
}

func TestNotificationsView(t *testing.T) {
	hub := startHub(t)
	source := &fakeNotifications{seed: []*types.Notification{
		{Id: "n1", UserId: "u1", Title: "old", Read: true, CreatedAt: now},
	}}
	v := NewNotificationsView(hub, source, "u1")
	require.NoError(t, v.Start(context.Background()))
	assert.Equal(t, 0, v.Unread())

	n2 := &types.Notification{Id: "n2", UserId: "u1", Type: types.NotificationApproved, Title: "approved", CreatedAt: now.Add(time.Minute)}
	n3 := &types.Notification{Id: "n3", UserId: "u2", Title: "not mine", CreatedAt: now.Add(time.Minute)}
	hub.Publish(
		changeEvent(t, types.TableNotifications, types.ChangeInsert, n2.Id, n2),
		changeEvent(t, types.TableNotifications, types.ChangeInsert, n3.Id, n3),
	)
	waitFor(t, func() bool { return v.Unread() == 1 })
	list := v.Notifications()
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].Id)

	read := *n2
	read.Read = true
	hub.Publish(
		changeEvent(t, types.TableNotifications, types.ChangeUpdate, read.Id, &read),
		changeEvent(t, types.TableNotifications, types.ChangeDelete, "n1", source.seed[0]),
	)
	waitFor(t, func() bool { return len(v.Notifications()) == 1 && v.Unread() == 0 })

	v.Close()
	_, open := <-v.Updates()
	for open {
		_, open = <-v.Updates()
	}
	hub.Publish(changeEvent(t, types.TableNotifications, types.ChangeInsert, "n4", &types.Notification{Id: "n4", UserId: "u1"}))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, v.Notifications(), 1)
}

type fakeFeed struct {
	mu      sync.Mutex
	calls   int
	status  map[string]types.ParticipantStatus
	joinErr error
	block   chan struct{}
}

func (f *fakeFeed) Feed(ctx context.Context, viewerId string, activity types.ActivityType) ([]*lifecycle.Card, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	status := make(map[string]types.ParticipantStatus, len(f.status))
	for k, v := range f.status {
		status[k] = v
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	cards := make([]*lifecycle.Card, 0)
	for _, id := range []string{"h1", "h2"} {
		h := &types.Hangout{Id: id, Title: id, ActivityType: types.ActivityFood, StartTime: now, ExpiresAt: now.Add(2 * time.Hour), MaxParticipants: 4}
		cards = append(cards, &lifecycle.Card{Hangout: h, Summary: capacity.Summary{MyStatus: status[id]}})
	}
	return cards, nil
}

func (f *fakeFeed) RequestJoin(ctx context.Context, hangoutId, userId string) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.status[hangoutId] = types.ParticipantPending
	return &types.Participant{Id: "p-" + hangoutId, HangoutId: hangoutId, UserId: userId, Status: types.ParticipantPending}, nil
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func item(items []FeedItem, id string) FeedItem {
	for _, i := range items {
		if i.Hangout.Id == id {
			return i
		}
	}
	return FeedItem{}
}

func TestFeedViewCoalescesChanges(t *testing.T) {
	hub := startHub(t)
	source := &fakeFeed{status: make(map[string]types.ParticipantStatus)}
	v := NewFeedView(hub, source, "u1", "", 50*time.Millisecond)
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))
	assert.Equal(t, 1, source.callCount())
	assert.Len(t, v.Items(), 2)

	for i := 0; i < 10; i++ {
		p := &types.Participant{Id: fmt.Sprintf("p%d", i), HangoutId: "h1", UserId: "u9", Status: types.ParticipantPending}
		hub.Publish(changeEvent(t, types.TableParticipants, types.ChangeInsert, p.Id, p))
	}
	waitFor(t, func() bool { return source.callCount() == 2 })
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, source.callCount())
}

func TestFeedViewOptimisticJoin(t *testing.T) {
	hub := startHub(t)
	source := &fakeFeed{status: make(map[string]types.ParticipantStatus)}
	v := NewFeedView(hub, source, "u1", "", 20*time.Millisecond)
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))

	p, err := v.RequestJoin(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, types.ParticipantPending, p.Status)
	got := item(v.Items(), "h1")
	assert.Equal(t, types.ParticipantPending, got.MyStatus)

	// the follow-up refresh confirms the status from stored data
	waitFor(t, func() bool {
		got := item(v.Items(), "h1")
		return got.MyStatus == types.ParticipantPending && !got.Unconfirmed
	})
}

func TestFeedViewRollsBackOnConflict(t *testing.T) {
	hub := startHub(t)
	source := &fakeFeed{status: map[string]types.ParticipantStatus{}, joinErr: types.ErrHangoutFull}
	v := NewFeedView(hub, source, "u1", "", 20*time.Millisecond)
	defer v.Close()
	require.NoError(t, v.Start(context.Background()))

	_, err := v.RequestJoin(context.Background(), "h2")
	assert.ErrorIs(t, err, types.ErrHangoutFull)
	got := item(v.Items(), "h2")
	assert.Empty(t, got.MyStatus)
	assert.False(t, got.Unconfirmed)
	waitFor(t, func() bool { return source.callCount() == 2 })
}

func TestFeedViewDiscardsResultsAfterClose(t *testing.T) {
	hub := startHub(t)
	source := &fakeFeed{status: make(map[string]types.ParticipantStatus)}
	v := NewFeedView(hub, source, "u1", "", 10*time.Millisecond)
	require.NoError(t, v.Start(context.Background()))
	require.Len(t, v.Items(), 2)

	source.mu.Lock()
	source.block = make(chan struct{})
	source.status["h1"] = types.ParticipantApproved
	source.mu.Unlock()
	hub.Publish(changeEvent(t, types.TableHangouts, types.ChangeUpdate, "h1", &types.Hangout{Id: "h1"}))
	waitFor(t, func() bool { return source.callCount() == 2 })

	v.Close()
	close(source.block)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, item(v.Items(), "h1").MyStatus)
	waitFor(t, func() bool { return hub.NoSubscriptions() == 0 })
}
