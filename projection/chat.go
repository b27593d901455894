package projection

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/adda/filter"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

const authorCacheSize = 256

// MessageSource loads the chat history of a hangout for a viewer.
type MessageSource interface {
	Messages(ctx context.Context, hangoutId, viewerId string) ([]*types.Message, error)
}

// ProfileSource looks up single profiles.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*types.Profile, error)
}

// ChatView is the live message list of one hangout. Messages are ordered by creation time whatever order they
// arrive in, and every message carries its author.
type ChatView struct {
	stream
	hub       *realtime.Hub
	source    MessageSource
	profiles  ProfileSource
	hangoutId string
	viewerId  string
	authors   *lru.ARCCache
	messages  *Collection[*types.Message]
}

func NewChatView(hub *realtime.Hub, source MessageSource, profiles ProfileSource, hangoutId, viewerId string) (*ChatView, error) {
	authors, err := lru.NewARC(authorCacheSize)
	if err != nil {
		return nil, err
	}
	v := ChatView{
		stream:    stream{logger: globals.AppLogger.Named("chat-view").With("hangout", hangoutId), updates: make(chan struct{}, 1)},
		hub:       hub,
		source:    source,
		profiles:  profiles,
		hangoutId: hangoutId,
		viewerId:  viewerId,
		authors:   authors,
		messages: NewCollection(
			func(m *types.Message) string { return m.Id },
			func(a, b *types.Message) bool { return a.CreatedAt.Before(b.CreatedAt) },
		),
	}
	return &v, nil
}

// Start seeds the view with the stored history and then follows new messages.
func (v *ChatView) Start(ctx context.Context) error {
	ctx, err := v.subscribe(ctx, v.hub, map[string]string{
		types.TableMessages: filter.FieldEquals("hangout_id", v.hangoutId),
	})
	if err != nil {
		return err
	}
	history, err := v.source.Messages(ctx, v.hangoutId, v.viewerId)
	if err != nil {
		v.close()
		return err
	}
	for _, m := range history {
		if m.User != nil {
			v.authors.Add(m.UserId, m.User)
		}
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return context.Canceled
	}
	v.messages.Reset(history)
	v.notifyLocked()
	v.mu.Unlock()
	v.follow(func(event *types.ChangeEvent) { v.apply(ctx, event) })
	return nil
}

func (v *ChatView) apply(ctx context.Context, event *types.ChangeEvent) {
	message := &types.Message{}
	if event.Kind != types.ChangeDelete {
		err := realtime.Decode(event, message)
		if err != nil {
			v.logger.Warn("could not decode message event", "id", event.RecordId, "error", err)
			return
		}
		if message.User == nil {
			message.User = v.author(ctx, message.UserId)
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if v.messages.Apply(event.Kind, event.RecordId, message) {
		v.notifyLocked()
	}
}

// author returns the cached profile or looks it up. A failed lookup leaves the message without author.
func (v *ChatView) author(ctx context.Context, userId string) *types.Profile {
	if p, ok := v.authors.Get(userId); ok {
		return p.(*types.Profile)
	}
	profile, err := v.profiles.GetProfile(ctx, userId)
	if err != nil {
		v.logger.Warn("could not look up message author", "user", userId, "error", err)
		return nil
	}
	v.authors.Add(userId, profile)
	return profile
}

// Messages returns the current messages, oldest first.
func (v *ChatView) Messages() []*types.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.messages.Items()
}

func (v *ChatView) Close() {
	v.close()
}
