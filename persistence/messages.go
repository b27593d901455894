package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tcriess/adda/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreMessage appends a chat message. The author must be an approved participant of the hangout.
func (p *GormPersist) StoreMessage(ctx context.Context, message *types.Message) error {
	if message.MessageType == "" {
		message.MessageType = types.MessageTypeText
	}
	if strings.TrimSpace(message.Content) == "" {
		return types.NewValidationError("content", "must not be empty")
	}
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		var approved int64
		err := tx.Model(&types.Participant{}).
			Where("hangout_id = ? AND user_id = ? AND status = ?", message.HangoutId, message.UserId, types.ParticipantApproved).
			Count(&approved).Error
		if err != nil {
			return err
		}
		if approved == 0 {
			return fmt.Errorf("only approved participants can chat: %w", types.ErrForbidden)
		}
		if message.Id == "" {
			message.Id = uuid.NewString()
		}
		message.CreatedAt = rec.now
		message.User = nil
		err = tx.Omit(clause.Associations).Create(message).Error
		if err != nil {
			return err
		}
		rec.record(types.TableMessages, types.ChangeInsert, message.Id, message)
		return nil
	})
}

// ListMessages returns the chat of a hangout in creation order, with the authors' profiles.
func (p *GormPersist) ListMessages(ctx context.Context, hangoutId string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.WithContext(ctx).Preload("User").Where("hangout_id = ?", hangoutId).Order("created_at, id").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
