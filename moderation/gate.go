package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/types"
)

const (
	// ReportListLimit caps the admin report listing.
	ReportListLimit = 100

	defaultRetries = 3
	defaultBackoff = 200 * time.Millisecond
)

// Tab selects the reports shown to admins: the open ones or the handled ones.
type Tab string

const (
	TabPending  Tab = "pending"
	TabReviewed Tab = "reviewed"
	TabAll      Tab = "all"
)

// Stats are the report counters of the admin overview.
type Stats struct {
	Pending  int `json:"pending"`
	Actioned int `json:"actioned"`
	Total    int `json:"total"`
}

// Gate is the moderation entry point: users file reports, admins resolve them and ban users. Admin rights are
// checked by the store for mutations and by the gate for listings.
type Gate struct {
	store   persistence.Persister
	retries int
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  hclog.Logger
}

type Option func(*Gate)

// WithRetries sets how often the resolution step of BanAndResolve is retried and the initial delay, which doubles
// on each attempt.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(g *Gate) {
		g.retries = retries
		g.backoff = backoff
	}
}

func NewGate(store persistence.Persister, opts ...Option) *Gate {
	g := &Gate{
		store:   store,
		retries: defaultRetries,
		backoff: defaultBackoff,
		sleep:   sleepContext,
		logger:  globals.AppLogger.Named("moderation"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SubmitReport files a report against exactly one user or one hangout. Reporting the same target again is allowed.
func (g *Gate) SubmitReport(ctx context.Context, reporterId string, target types.ReportTarget, reason, details string) (*types.Report, error) {
	if reporterId == "" {
		return nil, types.NewValidationError("reporter_id", "is required")
	}
	target.UserId = strings.TrimSpace(target.UserId)
	target.HangoutId = strings.TrimSpace(target.HangoutId)
	if (target.UserId == "") == (target.HangoutId == "") {
		return nil, types.NewValidationError("target", "exactly one of user or hangout must be reported")
	}
	if !types.ValidReportReason(reason) {
		return nil, types.NewValidationError("reason", fmt.Sprintf("must be one of %s", strings.Join(types.ReportReasons, ", ")))
	}
	details = strings.TrimSpace(details)
	if utf8.RuneCountInString(details) > types.MaxReportDetailsLength {
		return nil, types.NewValidationError("details", fmt.Sprintf("must be at most %d characters", types.MaxReportDetailsLength))
	}
	report := &types.Report{
		ReporterId: reporterId,
		Reason:     reason,
		Details:    details,
	}
	if target.UserId != "" {
		report.ReportedUserId = &target.UserId
	} else {
		report.ReportedHangoutId = &target.HangoutId
	}
	err := g.store.StoreReport(ctx, report)
	if err != nil {
		return nil, err
	}
	g.logger.Info("report submitted", "id", report.Id, "reporter", reporterId, "reason", reason)
	return report, nil
}

// Resolve closes a pending report as actioned or dismissed. Resolution is terminal.
func (g *Gate) Resolve(ctx context.Context, reportId string, status types.ReportStatus, adminId string) (*types.Report, error) {
	report, err := g.store.ResolveReport(ctx, reportId, status, adminId)
	if err != nil {
		return report, err
	}
	g.logger.Info("report resolved", "id", reportId, "status", status, "by", adminId)
	return report, nil
}

// BanUser bans the user and removes their pending join requests. Banning twice is harmless.
func (g *Gate) BanUser(ctx context.Context, userId, reason, adminId string) (int, error) {
	removed, err := g.store.BanUser(ctx, userId, reason, adminId)
	if err != nil {
		return 0, err
	}
	g.logger.Info("user banned", "user", userId, "reason", reason, "by", adminId, "removed_requests", removed)
	return removed, nil
}

// BanAndResolve bans the reported user and then marks the report as actioned. The ban is idempotent, so the whole
// operation can be repeated; the resolution is retried with a growing delay, and a report that is already actioned
// counts as success.
func (g *Gate) BanAndResolve(ctx context.Context, reportId, adminId string) (*types.Report, error) {
	report, err := g.store.GetReport(ctx, reportId)
	if err != nil {
		return nil, err
	}
	if report.ReportedUserId == nil || *report.ReportedUserId == "" {
		return nil, types.NewValidationError("report", "does not name a user")
	}
	_, err = g.BanUser(ctx, *report.ReportedUserId, report.Reason, adminId)
	if err != nil {
		return nil, err
	}

	delay := g.backoff
	for attempt := 0; ; attempt++ {
		resolved, err := g.Resolve(ctx, reportId, types.ReportActioned, adminId)
		switch {
		case err == nil:
			return resolved, nil
		case errors.Is(err, types.ErrAlreadyResolved):
			if resolved != nil && resolved.Status == types.ReportActioned {
				return resolved, nil
			}
			return resolved, err
		case !retryable(err) || attempt >= g.retries:
			g.logger.Error("could not resolve report after ban", "id", reportId, "attempts", attempt+1, "error", err)
			return nil, err
		}
		g.logger.Warn("resolving report failed, retrying", "id", reportId, "attempt", attempt+1, "delay", delay, "error", err)
		err = g.sleep(ctx, delay)
		if err != nil {
			return nil, err
		}
		delay *= 2
	}
}

// retryable reports whether a failure may go away on its own. Rule violations never do.
func retryable(err error) bool {
	switch {
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrForbidden),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Reports lists the reports of a tab, newest first, with reporter and reported user. Only admins may list.
func (g *Gate) Reports(ctx context.Context, adminId string, tab Tab) ([]*types.Report, error) {
	err := g.requireAdmin(ctx, adminId)
	if err != nil {
		return nil, err
	}
	query := persistence.ReportQuery{Limit: ReportListLimit}
	switch tab {
	case TabPending, "":
		query.Statuses = []types.ReportStatus{types.ReportPending}
	case TabReviewed:
		query.Statuses = []types.ReportStatus{types.ReportReviewed, types.ReportActioned, types.ReportDismissed}
	case TabAll:
	default:
		return nil, types.NewValidationError("tab", fmt.Sprintf("unknown tab %q", tab))
	}
	return g.store.ListReports(ctx, query)
}

// Stats counts the most recent reports by status.
func (g *Gate) Stats(ctx context.Context, adminId string) (Stats, error) {
	reports, err := g.Reports(ctx, adminId, TabAll)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(reports)}
	for _, report := range reports {
		switch report.Status {
		case types.ReportPending:
			stats.Pending++
		case types.ReportActioned:
			stats.Actioned++
		}
	}
	return stats, nil
}

func (g *Gate) requireAdmin(ctx context.Context, userId string) error {
	profile, err := g.store.GetProfile(ctx, userId)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("admin role required: %w", types.ErrForbidden)
		}
		return err
	}
	if !profile.IsAdmin() {
		return fmt.Errorf("admin role required: %w", types.ErrForbidden)
	}
	return nil
}
