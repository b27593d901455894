package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/adda/globals"
)

const DefaultPollInterval = 30 * time.Second

// A Watcher re-classifies one hangout on a fixed polling interval and calls OnChange whenever the phase moves on.
// The first phase is reported synchronously by NewWatcher.
type Watcher struct {
	start, expires time.Time
	window         time.Duration
	now            func() time.Time
	onChange       func(Phase)

	mu      sync.Mutex
	phase   Phase
	stopped bool

	runner *cron.Cron
	logger hclog.Logger
}

type WatcherOption func(*Watcher)

// WithNow replaces the time source.
func WithNow(now func() time.Time) WatcherOption {
	return func(w *Watcher) {
		w.now = now
	}
}

func WithEndingSoonWindow(window time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.window = window
	}
}

func NewWatcher(start, expires time.Time, interval time.Duration, onChange func(Phase), opts ...WatcherOption) (*Watcher, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &Watcher{
		start:    start,
		expires:  expires,
		window:   DefaultEndingSoonWindow,
		now:      time.Now,
		onChange: onChange,
		logger:   globals.AppLogger.Named("clock"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.phase = ClassifyWithin(w.now(), start, expires, w.window)
	if onChange != nil {
		onChange(w.phase)
	}
	if w.phase == PhaseExpired {
		w.stopped = true
		return w, nil
	}
	w.runner = cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := w.runner.AddFunc(fmt.Sprintf("@every %s", interval), w.check)
	if err != nil {
		return nil, err
	}
	w.runner.Start()
	return w, nil
}

func (w *Watcher) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// check re-classifies and reports a changed phase. Phases only move forward; a clock running backwards is ignored.
// The watcher stops itself once the hangout expired.
func (w *Watcher) check() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	phase := ClassifyWithin(w.now(), w.start, w.expires, w.window)
	if phase == w.phase || phase.rank() < w.phase.rank() {
		w.mu.Unlock()
		return
	}
	w.phase = phase
	w.mu.Unlock()
	w.logger.Trace("phase changed", "phase", phase)
	if w.onChange != nil {
		w.onChange(phase)
	}
	if phase == PhaseExpired {
		w.Stop()
	}
}

// Stop releases the polling job. It may be called from the callback; a check already running still reports.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	runner := w.runner
	w.runner = nil
	w.mu.Unlock()
	if runner != nil {
		runner.Stop()
	}
}
