package projection

import (
	"context"

	"github.com/tcriess/adda/filter"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

const notificationLimit = 50

type NotificationSource interface {
	ListNotifications(ctx context.Context, userId string, limit int) ([]*types.Notification, error)
}

// NotificationsView is the live notification list of one user, newest first.
type NotificationsView struct {
	stream
	hub           *realtime.Hub
	source        NotificationSource
	userId        string
	notifications *Collection[*types.Notification]
}

func NewNotificationsView(hub *realtime.Hub, source NotificationSource, userId string) *NotificationsView {
	return &NotificationsView{
		stream: stream{logger: globals.AppLogger.Named("notifications-view").With("user", userId), updates: make(chan struct{}, 1)},
		hub:    hub,
		source: source,
		userId: userId,
		notifications: NewCollection(
			func(n *types.Notification) string { return n.Id },
			func(a, b *types.Notification) bool { return a.CreatedAt.After(b.CreatedAt) },
		),
	}
}

// Start seeds the view and follows the user's notification rows. A failing seed leaves the view empty.
func (v *NotificationsView) Start(ctx context.Context) error {
	ctx, err := v.subscribe(ctx, v.hub, map[string]string{
		types.TableNotifications: filter.FieldEquals("user_id", v.userId),
	})
	if err != nil {
		return err
	}
	seed, err := v.source.ListNotifications(ctx, v.userId, notificationLimit)
	if err != nil {
		v.logger.Error("could not load notifications", "error", err)
		seed = nil
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return context.Canceled
	}
	v.notifications.Reset(seed)
	v.notifyLocked()
	v.mu.Unlock()
	v.follow(v.apply)
	return nil
}

func (v *NotificationsView) apply(event *types.ChangeEvent) {
	n := &types.Notification{}
	if event.Kind != types.ChangeDelete {
		err := realtime.Decode(event, n)
		if err != nil {
			v.logger.Warn("could not decode notification event", "id", event.RecordId, "error", err)
			return
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if v.notifications.Apply(event.Kind, event.RecordId, n) {
		v.notifyLocked()
	}
}

func (v *NotificationsView) Notifications() []*types.Notification {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.notifications.Items()
}

// Unread counts the unread notifications.
func (v *NotificationsView) Unread() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	count := 0
	for _, n := range v.notifications.Items() {
		if !n.Read {
			count++
		}
	}
	return count
}

func (v *NotificationsView) Close() {
	v.close()
}
