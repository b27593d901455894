package realtime

import (
	"sync"

	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/adda/types"
)

// Subscription is a cancellable stream of change events for one table, optionally narrowed by a row predicate.
// Events are queued without bound so a slow consumer never stalls the hub; Close releases the subscription and
// closes the Events channel.
type Subscription struct {
	Id    string
	Table string

	hub  *Hub
	prog *vm.Program

	mu     sync.Mutex
	queue  []*types.ChangeEvent
	notify chan struct{}
	out    chan *types.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func newSubscription(hub *Hub, id, table string, prog *vm.Program) *Subscription {
	s := &Subscription{
		Id:     id,
		Table:  table,
		hub:    hub,
		prog:   prog,
		notify: make(chan struct{}, 1),
		out:    make(chan *types.ChangeEvent),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// Events yields the matching change events in publish order. The channel is closed after Close.
func (s *Subscription) Events() <-chan *types.ChangeEvent {
	return s.out
}

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the subscription from the hub. It is safe to call Close more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *Subscription) enqueue(event *types.ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}
