package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/adda/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateHangout stores the hangout and its creator's approved membership in one transaction. ExpiresAt is derived
// from StartTime when it is not set.
func (p *GormPersist) CreateHangout(ctx context.Context, hangout *types.Hangout) (*types.Participant, error) {
	var participant *types.Participant
	err := p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		creator, err := loadProfile(tx, hangout.CreatorId)
		if err != nil {
			return err
		}
		if creator.IsBanned {
			return types.ErrBanned
		}
		if hangout.Id == "" {
			hangout.Id = uuid.NewString()
		}
		hangout.StartTime = hangout.StartTime.UTC()
		if hangout.ExpiresAt.IsZero() {
			hangout.ExpiresAt = hangout.StartTime.Add(types.HangoutDuration)
		}
		hangout.ExpiresAt = hangout.ExpiresAt.UTC()
		hangout.CreatedAt = rec.now
		hangout.Creator = nil
		hangout.Participants = nil
		err = tx.Omit(clause.Associations).Create(hangout).Error
		if err != nil {
			return err
		}
		rec.record(types.TableHangouts, types.ChangeInsert, hangout.Id, hangout)

		participant = &types.Participant{
			Id:        uuid.NewString(),
			HangoutId: hangout.Id,
			UserId:    creator.Id,
			Status:    types.ParticipantApproved,
			JoinedAt:  rec.now,
		}
		err = tx.Omit(clause.Associations).Create(participant).Error
		if err != nil {
			return err
		}
		rec.record(types.TableParticipants, types.ChangeInsert, participant.Id, participant)

		creator.HostedCount++
		countApproval(creator, rec.now)
		return saveCounters(tx, rec, creator)
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

func (p *GormPersist) GetHangout(ctx context.Context, id string) (*types.Hangout, error) {
	hangout := &types.Hangout{}
	err := p.db.WithContext(ctx).Preload("Creator").First(hangout, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "hangout", id)
	}
	return hangout, nil
}

// ListHangouts returns hangouts with their creator and participants (including the participants' profiles).
func (p *GormPersist) ListHangouts(ctx context.Context, query types.HangoutQuery) ([]*types.Hangout, error) {
	hangouts := make([]*types.Hangout, 0)
	q := p.db.WithContext(ctx).Model(&types.Hangout{}).
		Preload("Creator").
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at") }).
		Preload("Participants.User")
	if !query.ExpiresAfter.IsZero() {
		q = q.Where("expires_at > ?", query.ExpiresAfter.UTC())
	}
	if !query.ExpiresBefore.IsZero() {
		q = q.Where("expires_at < ?", query.ExpiresBefore.UTC())
	}
	if query.CreatorId != "" {
		q = q.Where("creator_id = ?", query.CreatorId)
	}
	if query.MemberId != "" {
		members := p.db.Model(&types.Participant{}).Select("hangout_id").
			Where("user_id = ? AND status = ?", query.MemberId, types.ParticipantApproved)
		q = q.Where("id IN (?)", members)
	}
	if query.ActivityType != "" {
		q = q.Where("activity_type = ?", string(query.ActivityType))
	}
	order, err := hangoutOrder(query.OrderBy)
	if err != nil {
		return nil, err
	}
	q = q.Order(order)
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	err = q.Find(&hangouts).Error
	if err != nil {
		return nil, err
	}
	return hangouts, nil
}

var hangoutOrderColumns = map[string]struct{}{
	"start_time": {},
	"expires_at": {},
	"created_at": {},
}

func hangoutOrder(orderBy string) (string, error) {
	if orderBy == "" {
		return "start_time", nil
	}
	parts := strings.Fields(strings.ToLower(orderBy))
	if _, ok := hangoutOrderColumns[parts[0]]; !ok || len(parts) > 2 {
		return "", fmt.Errorf("invalid order %q", orderBy)
	}
	if len(parts) == 2 {
		if parts[1] != "asc" && parts[1] != "desc" {
			return "", fmt.Errorf("invalid order %q", orderBy)
		}
		return parts[0] + " " + parts[1], nil
	}
	return parts[0], nil
}

// DeleteHangout removes the hangout with its participants, messages and notifications. Only the creator or an
// admin may delete.
func (p *GormPersist) DeleteHangout(ctx context.Context, id, actingUserId string) error {
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		hangout := &types.Hangout{}
		err := forUpdate(tx).First(hangout, "id = ?", id).Error
		if err != nil {
			return notFound(err, "hangout", id)
		}
		if hangout.CreatorId != actingUserId {
			actor, err := loadProfile(tx, actingUserId)
			if err != nil {
				return err
			}
			if !actor.IsAdmin() {
				return fmt.Errorf("only the host or an admin can delete a hangout: %w", types.ErrForbidden)
			}
		}
		return deleteHangoutCascade(tx, rec, hangout)
	})
}

// DeleteExpiredHangouts hard-deletes every hangout that expired before the given time and returns their ids.
func (p *GormPersist) DeleteExpiredHangouts(ctx context.Context, before time.Time) ([]string, error) {
	ids := make([]string, 0)
	err := p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		hangouts := make([]*types.Hangout, 0)
		err := tx.Where("expires_at < ?", before.UTC()).Find(&hangouts).Error
		if err != nil {
			return err
		}
		for _, hangout := range hangouts {
			if err := deleteHangoutCascade(tx, rec, hangout); err != nil {
				return err
			}
		}
		for _, hangout := range hangouts {
			ids = append(ids, hangout.Id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func deleteHangoutCascade(tx *gorm.DB, rec *recorder, hangout *types.Hangout) error {
	participants := make([]*types.Participant, 0)
	err := tx.Where("hangout_id = ?", hangout.Id).Find(&participants).Error
	if err != nil {
		return err
	}
	notifications := make([]*types.Notification, 0)
	err = tx.Where("hangout_id = ?", hangout.Id).Find(&notifications).Error
	if err != nil {
		return err
	}
	messages := make([]*types.Message, 0)
	err = tx.Where("hangout_id = ?", hangout.Id).Find(&messages).Error
	if err != nil {
		return err
	}
	err = tx.Where("hangout_id = ?", hangout.Id).Delete(&types.Message{}).Error
	if err != nil {
		return err
	}
	err = tx.Where("hangout_id = ?", hangout.Id).Delete(&types.Notification{}).Error
	if err != nil {
		return err
	}
	err = tx.Where("hangout_id = ?", hangout.Id).Delete(&types.Participant{}).Error
	if err != nil {
		return err
	}
	err = tx.Delete(hangout).Error
	if err != nil {
		return err
	}
	for _, message := range messages {
		rec.record(types.TableMessages, types.ChangeDelete, message.Id, message)
	}
	for _, participant := range participants {
		rec.record(types.TableParticipants, types.ChangeDelete, participant.Id, participant)
	}
	for _, notification := range notifications {
		rec.record(types.TableNotifications, types.ChangeDelete, notification.Id, notification)
	}
	rec.record(types.TableHangouts, types.ChangeDelete, hangout.Id, hangout)
	return nil
}
