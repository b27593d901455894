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

// JoinHangout creates a pending join request (approved if the requester is the creator). An existing record for the
// same user is returned together with types.ErrDuplicateRequest, or types.ErrRequestRejected if the host declined it.
func (p *GormPersist) JoinHangout(ctx context.Context, hangoutId, userId string) (*types.Participant, error) {
	var participant *types.Participant
	err := p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		hangout := &types.Hangout{}
		err := forUpdate(tx).First(hangout, "id = ?", hangoutId).Error
		if err != nil {
			return notFound(err, "hangout", hangoutId)
		}
		if !rec.now.Before(hangout.ExpiresAt) {
			return types.ErrHangoutExpired
		}
		requester, err := loadProfile(forUpdate(tx), userId)
		if err != nil {
			return err
		}
		if requester.IsBanned {
			return types.ErrBanned
		}
		existing := &types.Participant{}
		err = tx.Where("hangout_id = ? AND user_id = ?", hangoutId, userId).First(existing).Error
		if err == nil {
			participant = existing
			if existing.Status == types.ParticipantRejected {
				return types.ErrRequestRejected
			}
			return types.ErrDuplicateRequest
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		participant = &types.Participant{
			Id:        uuid.NewString(),
			HangoutId: hangoutId,
			UserId:    userId,
			Status:    types.ParticipantPending,
			JoinedAt:  rec.now,
		}
		if userId == hangout.CreatorId {
			participant.Status = types.ParticipantApproved
		}
		err = tx.Omit(clause.Associations).Create(participant).Error
		if err != nil {
			return err
		}
		rec.record(types.TableParticipants, types.ChangeInsert, participant.Id, participant)
		if participant.Status == types.ParticipantApproved {
			countApproval(requester, rec.now)
			return saveCounters(tx, rec, requester)
		}
		return notifyJoinRequest(tx, rec, hangout, requester)
	})
	if err != nil {
		if errors.Is(err, types.ErrDuplicateRequest) || errors.Is(err, types.ErrRequestRejected) {
			return participant, err
		}
		return nil, err
	}
	return participant, nil
}

func (p *GormPersist) GetParticipant(ctx context.Context, id string) (*types.Participant, error) {
	participant := &types.Participant{}
	err := p.db.WithContext(ctx).Preload("User").First(participant, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "participant", id)
	}
	return participant, nil
}

// ListParticipants returns every record of the hangout in join order, with the users' profiles.
func (p *GormPersist) ListParticipants(ctx context.Context, hangoutId string) ([]*types.Participant, error) {
	participants := make([]*types.Participant, 0)
	err := p.db.WithContext(ctx).Preload("User").Where("hangout_id = ?", hangoutId).Order("joined_at").
		Find(&participants).Error
	if err != nil {
		return nil, err
	}
	return participants, nil
}

// DecideParticipant moves a pending request to approved or rejected. The hangout row is locked for the duration of
// the transaction and the approved count is re-read, so concurrent approvals can never exceed the capacity.
// Requests of an expired hangout can no longer be decided.
func (p *GormPersist) DecideParticipant(ctx context.Context, participantId string, status types.ParticipantStatus, actingUserId string) (*types.Participant, error) {
	if status != types.ParticipantApproved && status != types.ParticipantRejected {
		return nil, types.NewValidationError("status", fmt.Sprintf("%q is not a decision", status))
	}
	var participant *types.Participant
	err := p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		participant = &types.Participant{}
		err := tx.First(participant, "id = ?", participantId).Error
		if err != nil {
			return notFound(err, "participant", participantId)
		}
		hangout := &types.Hangout{}
		err = forUpdate(tx).First(hangout, "id = ?", participant.HangoutId).Error
		if err != nil {
			return notFound(err, "hangout", participant.HangoutId)
		}
		if hangout.CreatorId != actingUserId {
			actor, err := loadProfile(tx, actingUserId)
			if err != nil {
				return err
			}
			if !actor.IsAdmin() {
				return fmt.Errorf("only the host or an admin can decide on join requests: %w", types.ErrForbidden)
			}
		}
		if !rec.now.Before(hangout.ExpiresAt) {
			return types.ErrHangoutExpired
		}
		// re-read under the lock, the first read may predate a concurrent decision
		err = tx.First(participant, "id = ?", participantId).Error
		if err != nil {
			return notFound(err, "participant", participantId)
		}
		if participant.Status != types.ParticipantPending {
			return types.ErrInvalidTransition
		}
		if status == types.ParticipantApproved {
			var approved int64
			err = tx.Model(&types.Participant{}).
				Where("hangout_id = ? AND status = ?", hangout.Id, types.ParticipantApproved).
				Count(&approved).Error
			if err != nil {
				return err
			}
			if int(approved) >= hangout.MaxParticipants {
				return types.ErrHangoutFull
			}
		}
		participant.Status = status
		err = tx.Model(participant).Update("status", status).Error
		if err != nil {
			return err
		}
		rec.record(types.TableParticipants, types.ChangeUpdate, participant.Id, participant)
		if status != types.ParticipantApproved {
			return nil
		}
		user, err := loadProfile(forUpdate(tx), participant.UserId)
		if err != nil {
			return err
		}
		countApproval(user, rec.now)
		if err := saveCounters(tx, rec, user); err != nil {
			return err
		}
		return notifyApproved(tx, rec, hangout, participant.UserId)
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}
