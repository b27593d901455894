package projection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/adda/filter"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/lifecycle"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

const DefaultDebounce = 500 * time.Millisecond

// FeedSource derives the feed cards and accepts join requests.
type FeedSource interface {
	Feed(ctx context.Context, viewerId string, activity types.ActivityType) ([]*lifecycle.Card, error)
	RequestJoin(ctx context.Context, hangoutId, userId string) (*types.Participant, error)
}

// FeedItem is a card as shown to the viewer. Unconfirmed marks a MyStatus that was set optimistically and has
// not been seen in the stored data yet.
type FeedItem struct {
	*lifecycle.Card
	MyStatus    types.ParticipantStatus `json:"my_status"`
	Unconfirmed bool                    `json:"unconfirmed"`
}

type tentative struct {
	status types.ParticipantStatus
	// the overlay is dropped by the first refresh started after this sequence number
	settledAt int
	settled   bool
}

// FeedView keeps the active hangouts of the feed current. Hangout and participant changes are coalesced: the
// first change arms a timer and the feed is derived once when it fires. Consumers are only signalled when the
// derived feed actually differs.
type FeedView struct {
	hub      *realtime.Hub
	source   FeedSource
	viewerId string
	activity types.ActivityType
	debounce time.Duration
	logger   hclog.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	subs      []*realtime.Subscription
	cards     []*lifecycle.Card
	overlay   map[string]*tentative
	hash      uint64
	published bool
	timer     *time.Timer
	seq       int
	appliedAt int
	closed    bool
	updates   chan struct{}
	wg        sync.WaitGroup
}

// NewFeedView creates the feed of a viewer, optionally restricted to one activity. A debounce of zero uses
// DefaultDebounce.
func NewFeedView(hub *realtime.Hub, source FeedSource, viewerId string, activity types.ActivityType, debounce time.Duration) *FeedView {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FeedView{
		hub:      hub,
		source:   source,
		viewerId: viewerId,
		activity: activity,
		debounce: debounce,
		logger:   globals.AppLogger.Named("feed-view"),
		overlay:  make(map[string]*tentative),
		updates:  make(chan struct{}, 1),
	}
}

// Start subscribes to hangout and participant changes and derives the feed once.
func (v *FeedView) Start(ctx context.Context) error {
	hangoutPredicate := ""
	if v.activity != "" {
		hangoutPredicate = filter.FieldEquals("activity_type", string(v.activity))
	}
	subs := make([]*realtime.Subscription, 0, 2)
	for _, s := range []struct{ table, predicate string }{
		{types.TableHangouts, hangoutPredicate},
		{types.TableParticipants, ""},
	} {
		sub, err := v.hub.Subscribe(s.table, s.predicate)
		if err != nil {
			for _, sub := range subs {
				sub.Close()
			}
			return err
		}
		subs = append(subs, sub)
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
		return context.Canceled
	}
	v.ctx, v.cancel = context.WithCancel(ctx)
	v.subs = subs
	for _, sub := range subs {
		v.wg.Add(1)
		go func(sub *realtime.Subscription) {
			defer v.wg.Done()
			for range sub.Events() {
				v.schedule()
			}
		}(sub)
	}
	v.mu.Unlock()
	return v.Refresh()
}

// schedule arms the debounce timer unless a refresh is already pending.
func (v *FeedView) schedule() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.timer != nil {
		return
	}
	v.timer = time.AfterFunc(v.debounce, func() {
		v.mu.Lock()
		v.timer = nil
		v.mu.Unlock()
		_ = v.Refresh()
	})
}

// Refresh derives the feed from the store now. A failed derivation keeps the previous feed.
func (v *FeedView) Refresh() error {
	v.mu.Lock()
	if v.closed || v.ctx == nil {
		v.mu.Unlock()
		return nil
	}
	v.seq++
	seq := v.seq
	ctx := v.ctx
	v.mu.Unlock()

	cards, err := v.source.Feed(ctx, v.viewerId, v.activity)
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Error("could not derive feed", "error", err)
		}
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || seq < v.appliedAt {
		return nil
	}
	v.appliedAt = seq
	v.cards = cards
	present := make(map[string]*lifecycle.Card, len(cards))
	for _, card := range cards {
		present[card.Hangout.Id] = card
	}
	for id, t := range v.overlay {
		card, ok := present[id]
		if !ok || card.Summary.MyStatus != "" || (t.settled && seq > t.settledAt) {
			delete(v.overlay, id)
		}
	}
	v.publishLocked()
	return nil
}

// RequestJoin asks to join a hangout and shows the request as pending right away. The tentative status is rolled
// back when the request fails; a conflict also triggers a refresh since the stored state differs from what the
// viewer saw.
func (v *FeedView) RequestJoin(ctx context.Context, hangoutId string) (*types.Participant, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, context.Canceled
	}
	v.overlay[hangoutId] = &tentative{status: types.ParticipantPending}
	v.publishLocked()
	v.mu.Unlock()

	participant, err := v.source.RequestJoin(ctx, hangoutId, v.viewerId)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return participant, err
	}
	if err != nil {
		delete(v.overlay, hangoutId)
		v.publishLocked()
		v.mu.Unlock()
		if errors.Is(err, types.ErrConflict) {
			v.schedule()
		}
		return participant, err
	}
	v.overlay[hangoutId] = &tentative{status: participant.Status, settled: true, settledAt: v.seq}
	v.publishLocked()
	v.mu.Unlock()
	v.schedule()
	return participant, nil
}

func (v *FeedView) itemsLocked() []FeedItem {
	items := make([]FeedItem, 0, len(v.cards))
	for _, card := range v.cards {
		item := FeedItem{Card: card, MyStatus: card.Summary.MyStatus}
		if t, ok := v.overlay[card.Hangout.Id]; ok {
			item.MyStatus = t.status
			item.Unconfirmed = true
		}
		items = append(items, item)
	}
	return items
}

// Items returns the current feed.
func (v *FeedView) Items() []FeedItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.itemsLocked()
}

type cardDigest struct {
	Id          string
	Title       string
	Location    string
	Activity    string
	Start       int64
	Expires     int64
	Max         int
	Approved    int
	Pending     int
	MyStatus    string
	Unconfirmed bool
	Phase       string
	Label       string
	Previews    []string
}

// publishLocked signals consumers when the visible feed changed since the last signal.
func (v *FeedView) publishLocked() {
	items := v.itemsLocked()
	digests := make([]cardDigest, 0, len(items))
	for _, item := range items {
		h := item.Hangout
		d := cardDigest{
			Id:          h.Id,
			Title:       h.Title,
			Location:    h.LocationText,
			Activity:    string(h.ActivityType),
			Start:       h.StartTime.UnixNano(),
			Expires:     h.ExpiresAt.UnixNano(),
			Max:         h.MaxParticipants,
			Approved:    item.Summary.ApprovedCount,
			Pending:     item.Summary.PendingCount,
			MyStatus:    string(item.MyStatus),
			Unconfirmed: item.Unconfirmed,
			Phase:       string(item.Phase),
			Label:       item.Label,
		}
		for _, p := range item.Summary.Previews {
			d.Previews = append(d.Previews, p.UserId)
		}
		digests = append(digests, d)
	}
	hash, err := hashstructure.Hash(digests, hashstructure.FormatV2, nil)
	if err != nil {
		v.logger.Warn("could not hash feed", "error", err)
	} else if v.published && hash == v.hash {
		return
	}
	v.hash = hash
	v.published = true
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

// Updates yields a signal whenever the feed changed. The channel is closed by Close.
func (v *FeedView) Updates() <-chan struct{} {
	return v.updates
}

// Close releases the subscriptions and the debounce timer. Derivations still running are discarded.
func (v *FeedView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if v.cancel != nil {
		v.cancel()
	}
	for _, sub := range v.subs {
		sub.Close()
	}
	close(v.updates)
	v.mu.Unlock()
	v.wg.Wait()
}
