package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/tcriess/adda/capacity"
	"github.com/tcriess/adda/clock"
	"github.com/tcriess/adda/types"
)

// Card is one hangout of the feed together with its derived state for the viewer.
type Card struct {
	Hangout *types.Hangout   `json:"hangout"`
	Summary capacity.Summary `json:"summary"`
	Phase   clock.Phase      `json:"phase"`
	Label   string           `json:"label"`
}

// Capabilities lists what the viewer can do with a hangout right now.
type Capabilities struct {
	CanJoin   bool `json:"can_join"`
	CanChat   bool `json:"can_chat"`
	CanDecide bool `json:"can_decide"`
	CanDelete bool `json:"can_delete"`
	CanReport bool `json:"can_report"`
}

type Detail struct {
	Card
	Participants []*types.Participant `json:"participants"`
	Capabilities Capabilities         `json:"capabilities"`
}

// EndedCard is the most recently ended hangout.
type EndedCard struct {
	Hangout       *types.Hangout `json:"hangout"`
	ApprovedCount int            `json:"approved_count"`
	EndedAgo      time.Duration  `json:"ended_ago"`
}

// NewCard derives the viewer's card of a hangout at the given time.
func NewCard(hangout *types.Hangout, viewerId string, now time.Time, window time.Duration) *Card {
	return &Card{
		Hangout: hangout,
		Summary: capacity.Summarize(hangout.MaxParticipants, hangout.Participants, viewerId),
		Phase:   clock.ClassifyWithin(now, hangout.StartTime, hangout.ExpiresAt, window),
		Label:   clock.Label(now, hangout.StartTime, hangout.ExpiresAt, window),
	}
}

// Feed lists the active hangouts (not yet expired) in start order, optionally restricted to one activity.
func (c *Controller) Feed(ctx context.Context, viewerId string, activity types.ActivityType) ([]*Card, error) {
	if activity != "" && !activity.Valid() {
		return nil, types.NewValidationError("activity_type", "unknown activity")
	}
	now := c.now()
	hangouts, err := c.store.ListHangouts(ctx, types.HangoutQuery{
		ExpiresAfter: now,
		ActivityType: activity,
		Limit:        c.policy.FeedLimit,
		OrderBy:      "start_time asc",
	})
	if err != nil {
		return nil, err
	}
	cards := make([]*Card, 0, len(hangouts))
	for _, hangout := range hangouts {
		cards = append(cards, NewCard(hangout, viewerId, now, c.policy.EndingSoonWindow))
	}
	return cards, nil
}

// RecentlyEnded returns the hangout that expired last within the recent window, or nil.
func (c *Controller) RecentlyEnded(ctx context.Context) (*EndedCard, error) {
	now := c.now()
	hangouts, err := c.store.ListHangouts(ctx, types.HangoutQuery{
		ExpiresAfter:  now.Add(-c.policy.RecentWindow),
		ExpiresBefore: now,
		Limit:         1,
		OrderBy:       "expires_at desc",
	})
	if err != nil {
		return nil, err
	}
	if len(hangouts) == 0 {
		return nil, nil
	}
	hangout := hangouts[0]
	summary := capacity.Summarize(hangout.MaxParticipants, hangout.Participants, "")
	return &EndedCard{
		Hangout:       hangout,
		ApprovedCount: summary.ApprovedCount,
		EndedAgo:      now.Sub(hangout.ExpiresAt),
	}, nil
}

// Detail returns the hangout with all participants and what the viewer can do with it.
func (c *Controller) Detail(ctx context.Context, hangoutId, viewerId string) (*Detail, error) {
	hangout, err := c.store.GetHangout(ctx, hangoutId)
	if err != nil {
		return nil, err
	}
	participants, err := c.store.ListParticipants(ctx, hangoutId)
	if err != nil {
		return nil, err
	}
	hangout.Participants = participants
	var viewer *types.Profile
	if viewerId != "" {
		viewer, err = c.store.GetProfile(ctx, viewerId)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	card := NewCard(hangout, viewerId, c.now(), c.policy.EndingSoonWindow)
	return &Detail{
		Card:         *card,
		Participants: participants,
		Capabilities: capabilities(card, viewer),
	}, nil
}

func capabilities(card *Card, viewer *types.Profile) Capabilities {
	if viewer == nil {
		return Capabilities{}
	}
	isHost := card.Hangout.CreatorId == viewer.Id
	manage := isHost || viewer.IsAdmin()
	open := card.Phase.Open()
	return Capabilities{
		CanJoin:   open && !viewer.IsBanned && card.Summary.CanRequest(),
		CanChat:   open && card.Summary.IsMember(),
		CanDecide: open && manage,
		CanDelete: manage,
		CanReport: !isHost,
	}
}
