package lifecycle

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/persistence"
)

// Janitor hard-deletes hangouts that expired more than the retention period ago, together with their chat images,
// on a cron schedule.
type Janitor struct {
	store     persistence.Persister
	images    ImageStore
	spec      string
	retention time.Duration
	now       func() time.Time
	runner    *cron.Cron
	logger    hclog.Logger
}

// NewJanitor returns an unscheduled janitor. images may be nil, chat images are kept then.
func NewJanitor(store persistence.Persister, images ImageStore, cfg config.CleanupConfig) *Janitor {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Cron == "" {
		cfg.Cron = "@hourly"
	}
	return &Janitor{
		store:     store,
		images:    images,
		spec:      cfg.Cron,
		retention: cfg.Retention,
		now:       time.Now,
		logger:    globals.AppLogger.Named("janitor"),
	}
}

func (j *Janitor) SetClock(now func() time.Time) {
	j.now = now
}

// Start schedules the cleanup job. An invalid cron spec is returned as error.
func (j *Janitor) Start() error {
	runner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := runner.AddFunc(j.spec, func() {
		_, err := j.RunOnce(context.Background())
		if err != nil {
			j.logger.Error("cleanup failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	j.runner = runner
	runner.Start()
	j.logger.Info("janitor scheduled", "cron", j.spec, "retention", j.retention)
	return nil
}

// Stop unschedules the job and waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	if j.runner == nil {
		return
	}
	<-j.runner.Stop().Done()
	j.runner = nil
}

// RunOnce deletes the hangouts that expired before now minus the retention period.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	before := j.now().Add(-j.retention)
	ids, err := j.store.DeleteExpiredHangouts(ctx, before)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		purgeImages(ctx, j.images, j.logger, id)
	}
	if len(ids) > 0 {
		j.logger.Info("deleted expired hangouts", "count", len(ids), "before", before)
	}
	return len(ids), nil
}
