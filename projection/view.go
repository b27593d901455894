package projection

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

// stream is the part every view shares: a hub subscription that is opened before the seeding fetch, so that
// events committed while seeding queue up in the subscription and are replayed on top of the seed.
type stream struct {
	logger hclog.Logger

	mu      sync.Mutex
	closed  bool
	subs    []*realtime.Subscription
	cancel  context.CancelFunc
	updates chan struct{}
	wg      sync.WaitGroup
}

// subscribe opens the subscriptions. The returned context is cancelled on close.
func (s *stream) subscribe(ctx context.Context, hub *realtime.Hub, tables map[string]string) (context.Context, error) {
	ctx, cancel := context.WithCancel(ctx)
	subs := make([]*realtime.Subscription, 0, len(tables))
	for table, predicate := range tables {
		sub, err := hub.Subscribe(table, predicate)
		if err != nil {
			cancel()
			for _, s := range subs {
				s.Close()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		for _, sub := range subs {
			sub.Close()
		}
		return nil, context.Canceled
	}
	s.subs = subs
	s.cancel = cancel
	return ctx, nil
}

// follow feeds the events of every subscription into apply, one goroutine per subscription.
func (s *stream) follow(apply func(event *types.ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		s.wg.Add(1)
		go func(sub *realtime.Subscription) {
			defer s.wg.Done()
			for event := range sub.Events() {
				apply(event)
			}
		}(sub)
	}
}

// notifyLocked signals the consumer. Signals coalesce while the consumer is busy.
func (s *stream) notifyLocked() {
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates yields a signal after each change of the view. The channel is closed by Close.
func (s *stream) Updates() <-chan struct{} {
	return s.updates
}

// close releases the subscriptions and cancels pending lookups. Results that arrive later are discarded.
func (s *stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	for _, sub := range s.subs {
		sub.Close()
	}
	close(s.updates)
	s.mu.Unlock()
	s.wg.Wait()
}
