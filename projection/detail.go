package projection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tcriess/adda/clock"
	"github.com/tcriess/adda/filter"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/lifecycle"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

type DetailSource interface {
	Detail(ctx context.Context, hangoutId, viewerId string) (*lifecycle.Detail, error)
}

// DetailView keeps one hangout with its participants current. Participant changes re-derive the detail, a clock
// watcher tracks the phase between changes. Once the hangout is deleted the view reports Gone.
type DetailView struct {
	stream
	hub       *realtime.Hub
	source    DetailSource
	hangoutId string
	viewerId  string
	interval  time.Duration
	window    time.Duration
	now       func() time.Time

	refreshMu sync.Mutex
	ctx       context.Context
	detail    *lifecycle.Detail
	phase     clock.Phase
	gone      bool
	watcher   *clock.Watcher
}

// NewDetailView creates the view. interval is the phase polling interval (zero uses clock.DefaultPollInterval),
// window the ending-soon window (zero uses clock.DefaultEndingSoonWindow).
func NewDetailView(hub *realtime.Hub, source DetailSource, hangoutId, viewerId string, interval, window time.Duration) *DetailView {
	if window <= 0 {
		window = clock.DefaultEndingSoonWindow
	}
	return &DetailView{
		stream:    stream{logger: globals.AppLogger.Named("detail-view").With("hangout", hangoutId), updates: make(chan struct{}, 1)},
		hub:       hub,
		source:    source,
		hangoutId: hangoutId,
		viewerId:  viewerId,
		interval:  interval,
		window:    window,
		now:       time.Now,
	}
}

// SetClock replaces the time source of the phase watcher. It must be called before Start.
func (v *DetailView) SetClock(now func() time.Time) {
	v.now = now
}

// Start loads the detail and follows the hangout. A hangout that does not exist (any more) is returned as
// types.ErrNotFound, the caller is expected to navigate away.
func (v *DetailView) Start(ctx context.Context) error {
	ctx, err := v.subscribe(ctx, v.hub, map[string]string{
		types.TableHangouts:     filter.And(filter.FieldEquals("id", v.hangoutId), filter.KindIs(types.ChangeDelete)),
		types.TableParticipants: filter.FieldEquals("hangout_id", v.hangoutId),
	})
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.ctx = ctx
	v.mu.Unlock()
	detail, err := v.source.Detail(ctx, v.hangoutId, v.viewerId)
	if err != nil {
		v.close()
		return err
	}
	watcher, err := clock.NewWatcher(detail.Hangout.StartTime, detail.Hangout.ExpiresAt, v.interval, v.phaseChanged,
		clock.WithNow(v.now), clock.WithEndingSoonWindow(v.window))
	if err != nil {
		v.close()
		return err
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		watcher.Stop()
		return context.Canceled
	}
	v.watcher = watcher
	v.detail = detail
	v.notifyLocked()
	v.mu.Unlock()
	v.follow(func(event *types.ChangeEvent) {
		v.apply(ctx, event)
	})
	return nil
}

func (v *DetailView) apply(ctx context.Context, event *types.ChangeEvent) {
	if event.Table == types.TableHangouts && event.Kind == types.ChangeDelete {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed || v.gone {
			return
		}
		v.gone = true
		v.notifyLocked()
		return
	}
	v.Refresh(ctx)
}

// phaseChanged is called by the watcher. A phase change alters the capabilities, so the detail is derived again.
// The first report arrives while Start is still loading and only records the phase.
func (v *DetailView) phaseChanged(phase clock.Phase) {
	v.mu.Lock()
	if v.closed || v.phase == phase {
		v.mu.Unlock()
		return
	}
	v.phase = phase
	loaded := v.detail != nil
	ctx := v.ctx
	v.notifyLocked()
	v.mu.Unlock()
	if loaded {
		v.Refresh(ctx)
	}
}

// Refresh derives the detail from the store. Refreshes are serialized; a result arriving after Close is dropped.
func (v *DetailView) Refresh(ctx context.Context) {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()
	detail, err := v.source.Detail(ctx, v.hangoutId, v.viewerId)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.gone {
		return
	}
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			v.gone = true
			v.notifyLocked()
			return
		}
		v.logger.Warn("could not refresh hangout", "error", err)
		return
	}
	v.detail = detail
	v.notifyLocked()
}

// Detail returns the last derived detail, or nil before Start.
func (v *DetailView) Detail() *lifecycle.Detail {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.detail
}

// Phase returns the phase as seen by the watcher.
func (v *DetailView) Phase() clock.Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// Gone reports whether the hangout was deleted.
func (v *DetailView) Gone() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gone
}

func (v *DetailView) Close() {
	v.mu.Lock()
	watcher := v.watcher
	v.watcher = nil
	v.mu.Unlock()
	if watcher != nil {
		watcher.Stop()
	}
	v.close()
}
