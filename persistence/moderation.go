package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tcriess/adda/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (p *GormPersist) StoreReport(ctx context.Context, report *types.Report) error {
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		if report.Id == "" {
			report.Id = uuid.NewString()
		}
		report.Status = types.ReportPending
		report.CreatedAt = rec.now
		report.ResolvedAt = nil
		report.ResolvedBy = nil
		report.Reporter = nil
		report.ReportedUser = nil
		err := tx.Omit(clause.Associations).Create(report).Error
		if err != nil {
			return err
		}
		rec.record(types.TableReports, types.ChangeInsert, report.Id, report)
		return nil
	})
}

func (p *GormPersist) GetReport(ctx context.Context, id string) (*types.Report, error) {
	report := &types.Report{}
	err := p.db.WithContext(ctx).Preload("Reporter").Preload("ReportedUser").First(report, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "report", id)
	}
	return report, nil
}

// ListReports returns reports newest first, with reporter and reported user.
func (p *GormPersist) ListReports(ctx context.Context, query ReportQuery) ([]*types.Report, error) {
	reports := make([]*types.Report, 0)
	q := p.db.WithContext(ctx).Preload("Reporter").Preload("ReportedUser").Order("created_at DESC")
	if len(query.Statuses) > 0 {
		q = q.Where("status IN ?", query.Statuses)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	err := q.Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func requireAdmin(tx *gorm.DB, actingUserId string) (*types.Profile, error) {
	actor, err := loadProfile(tx, actingUserId)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("admin role required: %w", types.ErrForbidden)
	}
	return actor, nil
}

// ResolveReport sets the terminal status (actioned or dismissed) of a pending report. A report that was already
// resolved is returned unchanged together with types.ErrAlreadyResolved.
func (p *GormPersist) ResolveReport(ctx context.Context, reportId string, status types.ReportStatus, actingUserId string) (*types.Report, error) {
	if status != types.ReportActioned && status != types.ReportDismissed {
		return nil, types.NewValidationError("status", fmt.Sprintf("%q is not a resolution", status))
	}
	report := &types.Report{}
	err := p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		actor, err := requireAdmin(tx, actingUserId)
		if err != nil {
			return err
		}
		err = forUpdate(tx).First(report, "id = ?", reportId).Error
		if err != nil {
			return notFound(err, "report", reportId)
		}
		if report.Status == types.ReportActioned || report.Status == types.ReportDismissed {
			return types.ErrAlreadyResolved
		}
		now := rec.now
		report.Status = status
		report.ResolvedAt = &now
		report.ResolvedBy = &actor.Id
		err = tx.Model(report).Select("status", "resolved_at", "resolved_by").Updates(report).Error
		if err != nil {
			return err
		}
		rec.record(types.TableReports, types.ChangeUpdate, report.Id, report)
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrAlreadyResolved) {
			return report, err
		}
		return nil, err
	}
	return report, nil
}

// BanUser flags the user as banned and removes their pending join requests. It returns the number of removed
// requests. Banning an already banned user only refreshes the reason.
func (p *GormPersist) BanUser(ctx context.Context, userId, reason, actingUserId string) (int, error) {
	removed := 0
	err := p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		_, err := requireAdmin(tx, actingUserId)
		if err != nil {
			return err
		}
		target, err := loadProfile(forUpdate(tx), userId)
		if err != nil {
			return err
		}
		wasBanned := target.IsBanned
		if !wasBanned || target.BanReason != reason {
			target.IsBanned = true
			target.BanReason = reason
			target.UpdatedAt = rec.now
			err = tx.Model(target).Select("is_banned", "ban_reason", "updated_at").Updates(target).Error
			if err != nil {
				return err
			}
			rec.record(types.TableProfiles, types.ChangeUpdate, target.Id, target)
		}

		pending := make([]*types.Participant, 0)
		err = tx.Where("user_id = ? AND status = ?", userId, types.ParticipantPending).Find(&pending).Error
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			err = tx.Where("user_id = ? AND status = ?", userId, types.ParticipantPending).Delete(&types.Participant{}).Error
			if err != nil {
				return err
			}
		}
		for _, participant := range pending {
			rec.record(types.TableParticipants, types.ChangeDelete, participant.Id, participant)
		}
		removed = len(pending)
		if wasBanned {
			return nil
		}
		return notifyBanned(tx, rec, userId, reason)
	})
	return removed, err
}
