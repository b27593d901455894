package lifecycle

import (
	"context"
	"sort"

	"github.com/tcriess/adda/types"
)

const (
	chatsLimit     = 30
	myHangoutLimit = 20
	completedLimit = 6
)

// ChatList splits the hangouts a user may chat in (or could, before they expired) by expiry.
type ChatList struct {
	Active []*Card `json:"active"`
	Past   []*Card `json:"past"`
}

// Chats lists the hangouts the viewer is an approved participant of, latest start first.
func (c *Controller) Chats(ctx context.Context, viewerId string) (*ChatList, error) {
	if viewerId == "" {
		return nil, types.NewValidationError("user_id", "is required")
	}
	now := c.now()
	hangouts, err := c.store.ListHangouts(ctx, types.HangoutQuery{
		MemberId: viewerId,
		Limit:    chatsLimit,
		OrderBy:  "start_time desc",
	})
	if err != nil {
		return nil, err
	}
	chats := &ChatList{Active: make([]*Card, 0), Past: make([]*Card, 0)}
	for _, hangout := range hangouts {
		card := NewCard(hangout, viewerId, now, c.policy.EndingSoonWindow)
		if now.Before(hangout.ExpiresAt) {
			chats.Active = append(chats.Active, card)
		} else {
			chats.Past = append(chats.Past, card)
		}
	}
	return chats, nil
}

// MyHangouts is the viewer's history: the hangouts they host and the ones they were approved for, latest start
// first, each hangout once.
func (c *Controller) MyHangouts(ctx context.Context, viewerId string) ([]*Card, error) {
	if viewerId == "" {
		return nil, types.NewValidationError("user_id", "is required")
	}
	hosted, err := c.store.ListHangouts(ctx, types.HangoutQuery{
		CreatorId: viewerId,
		Limit:     myHangoutLimit,
		OrderBy:   "start_time desc",
	})
	if err != nil {
		return nil, err
	}
	joined, err := c.store.ListHangouts(ctx, types.HangoutQuery{
		MemberId: viewerId,
		Limit:    myHangoutLimit,
		OrderBy:  "start_time desc",
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(hosted)+len(joined))
	all := make([]*types.Hangout, 0, len(hosted)+len(joined))
	for _, hangout := range append(hosted, joined...) {
		if _, ok := seen[hangout.Id]; ok {
			continue
		}
		seen[hangout.Id] = struct{}{}
		all = append(all, hangout)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })
	now := c.now()
	cards := make([]*Card, 0, len(all))
	for _, hangout := range all {
		cards = append(cards, NewCard(hangout, viewerId, now, c.policy.EndingSoonWindow))
	}
	return cards, nil
}

// CompletedHangouts returns the latest expired hangouts the user took part in, as shown on their public profile.
func (c *Controller) CompletedHangouts(ctx context.Context, userId string) ([]*Card, error) {
	_, err := c.store.GetProfile(ctx, userId)
	if err != nil {
		return nil, err
	}
	now := c.now()
	hangouts, err := c.store.ListHangouts(ctx, types.HangoutQuery{
		MemberId:      userId,
		ExpiresBefore: now,
		Limit:         completedLimit,
		OrderBy:       "start_time desc",
	})
	if err != nil {
		return nil, err
	}
	cards := make([]*Card, 0, len(hangouts))
	for _, hangout := range hangouts {
		cards = append(cards, NewCard(hangout, "", now, c.policy.EndingSoonWindow))
	}
	return cards, nil
}
