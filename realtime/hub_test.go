package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/adda/filter"
	"github.com/tcriess/adda/types"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func participantEvent(id, hangoutId string, kind types.ChangeKind) *types.ChangeEvent {
	return &types.ChangeEvent{
		Id:       "ev-" + id,
		Table:    types.TableParticipants,
		Kind:     kind,
		RecordId: id,
		Record: map[string]interface{}{
			"id":         id,
			"hangout_id": hangoutId,
			"user_id":    "u-" + id,
			"status":     "pending",
			"joined_at":  "2024-03-04T15:00:00Z",
		},
		Created: time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, sub *Subscription) *types.ChangeEvent {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return nil
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event %v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionFiltersByTableAndPredicate(t *testing.T) {
	hub := startHub(t)
	sub, err := hub.Subscribe(types.TableParticipants, filter.FieldEquals("hangout_id", "h1"))
	require.NoError(t, err)
	defer sub.Close()

	hub.Publish(&types.ChangeEvent{Table: types.TableMessages, Record: map[string]interface{}{"hangout_id": "h1"}})
	hub.Publish(participantEvent("p1", "h2", types.ChangeInsert))
	hub.Publish(participantEvent("p2", "h1", types.ChangeInsert))

	event := receive(t, sub)
	assert.Equal(t, "p2", event.RecordId)
	assertNoEvent(t, sub)
}

func TestSubscriptionKeepsPublishOrder(t *testing.T) {
	hub := startHub(t)
	sub, err := hub.Subscribe(types.TableParticipants, "")
	require.NoError(t, err)
	defer sub.Close()

	for _, id := range []string{"a", "b", "c", "d"} {
		hub.Publish(participantEvent(id, "h1", types.ChangeInsert))
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, id, receive(t, sub).RecordId)
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	hub := startHub(t)
	sub, err := hub.Subscribe(types.TableParticipants, "")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.NoSubscriptions())

	sub.Close()
	sub.Close()
	assert.Eventually(t, func() bool { return hub.NoSubscriptions() == 0 }, time.Second, 10*time.Millisecond)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestSubscribeInvalidPredicate(t *testing.T) {
	hub := startHub(t)
	_, err := hub.Subscribe(types.TableParticipants, "Record[")
	assert.Error(t, err)
}

func TestStoppedHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	sub, err := hub.Subscribe(types.TableParticipants, "")
	require.NoError(t, err)
	cancel()
	<-done

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not released")
	}
	_, err = hub.Subscribe(types.TableParticipants, "")
	assert.ErrorIs(t, err, ErrHubStopped)
	hub.Publish(participantEvent("p1", "h1", types.ChangeInsert))
}

func TestDecode(t *testing.T) {
	participant := &types.Participant{}
	err := Decode(participantEvent("p1", "h1", types.ChangeInsert), participant)
	require.NoError(t, err)
	assert.Equal(t, "p1", participant.Id)
	assert.Equal(t, "h1", participant.HangoutId)
	assert.Equal(t, types.ParticipantPending, participant.Status)
	assert.Equal(t, time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), participant.JoinedAt.UTC())
}
