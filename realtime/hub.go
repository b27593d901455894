package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/filter"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/types"
)

const broadcastChannelSize = 1000

var ErrHubStopped = errors.New("hub is not running")

type registration struct {
	sub  *Subscription
	done chan struct{}
}

// Hub fans committed change events out to subscriptions. There is one hub per process; Run must be started before
// Subscribe is called.
type Hub struct {
	// registered subscriptions
	subscriptions map[*Subscription]struct{}

	register   chan registration
	unregister chan *Subscription
	broadcast  chan []*types.ChangeEvent

	stopped chan struct{}
	logger  hclog.Logger

	// mutex for reading the subscriptions from outside the run loop
	sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[*Subscription]struct{}),
		register:      make(chan registration),
		unregister:    make(chan *Subscription, broadcastChannelSize),
		broadcast:     make(chan []*types.ChangeEvent, broadcastChannelSize),
		stopped:       make(chan struct{}),
		logger:        globals.AppLogger.Named("hub"),
	}
}

// NoSubscriptions returns the number of registered subscriptions
func (h *Hub) NoSubscriptions() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.subscriptions)
}

// Subscribe registers a subscription for the given table. The predicate is an expr expression evaluated against
// filter.Env (empty means every row of the table). The subscription is registered when Subscribe returns, so no
// event published afterwards is missed.
func (h *Hub) Subscribe(table, predicate string) (*Subscription, error) {
	prog, err := filter.Compile(predicate)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(h, uuid.NewString(), table, prog)
	reg := registration{sub: sub, done: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-h.stopped:
		sub.Close()
		return nil, ErrHubStopped
	}
	<-reg.done
	h.logger.Debug("subscribed", "table", table, "predicate", predicate, "id", sub.Id)
	return sub, nil
}

// Publish queues events for delivery. Events published after the hub stopped are dropped.
func (h *Hub) Publish(events ...*types.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	select {
	case h.broadcast <- events:
	case <-h.stopped:
		h.logger.Debug("hub stopped, dropping events", "count", len(events))
	}
}

func (h *Hub) remove(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.stopped:
	}
}

// Run is the main hub event loop handling register, unregister and broadcast requests. It returns when ctx is done,
// after releasing all remaining subscriptions.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.stopped)
		h.Lock()
		for sub := range h.subscriptions {
			delete(h.subscriptions, sub)
			sub.once.Do(func() { close(sub.done) })
		}
		h.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stopping hub run loop")
			return

		case reg := <-h.register:
			h.Lock()
			h.subscriptions[reg.sub] = struct{}{}
			h.Unlock()
			close(reg.done)

		case sub := <-h.unregister:
			h.Lock()
			delete(h.subscriptions, sub)
			h.Unlock()
			h.logger.Debug("unsubscribed", "table", sub.Table, "id", sub.Id)

		case events := <-h.broadcast:
			h.RLock()
			for _, event := range events {
				for sub := range h.subscriptions {
					if sub.Table != event.Table {
						continue
					}
					if !filter.Match(sub.prog, event) {
						continue
					}
					sub.enqueue(event)
				}
			}
			h.RUnlock()
		}
	}
}
