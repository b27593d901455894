package lifecycle

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tcriess/adda/types"
)

// SendMessage posts a text message. Only approved participants may chat, and only until the hangout expires.
func (c *Controller) SendMessage(ctx context.Context, hangoutId, userId, content string) (*types.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, types.NewValidationError("content", "is required")
	}
	if utf8.RuneCountInString(content) > types.MaxMessageLength {
		return nil, types.NewValidationError("content", fmt.Sprintf("must be at most %d characters", types.MaxMessageLength))
	}
	err := c.checkChatOpen(ctx, hangoutId)
	if err != nil {
		return nil, err
	}
	message := &types.Message{
		HangoutId:   hangoutId,
		UserId:      userId,
		Content:     content,
		MessageType: types.MessageTypeText,
	}
	err = c.store.StoreMessage(ctx, message)
	if err != nil {
		return nil, err
	}
	return message, nil
}

// SendImage uploads the image to the hangout's chat namespace and posts an image message referencing it.
func (c *Controller) SendImage(ctx context.Context, hangoutId, userId, contentType string, r io.Reader) (*types.Message, error) {
	if c.images == nil {
		return nil, fmt.Errorf("no image store configured")
	}
	err := c.checkChatOpen(ctx, hangoutId)
	if err != nil {
		return nil, err
	}
	err = c.checkMember(ctx, hangoutId, userId)
	if err != nil {
		return nil, err
	}
	blob, err := c.images.UploadChatImage(ctx, hangoutId, contentType, r)
	if err != nil {
		return nil, err
	}
	message := &types.Message{
		HangoutId:   hangoutId,
		UserId:      userId,
		Content:     types.ImageMessageContent,
		MessageType: types.MessageTypeImage,
		MediaUrl:    blob.URL,
	}
	err = c.store.StoreMessage(ctx, message)
	if err != nil {
		return nil, err
	}
	return message, nil
}

// Messages returns the chat of a hangout to an approved participant.
func (c *Controller) Messages(ctx context.Context, hangoutId, viewerId string) ([]*types.Message, error) {
	err := c.checkMember(ctx, hangoutId, viewerId)
	if err != nil {
		return nil, err
	}
	return c.store.ListMessages(ctx, hangoutId)
}

func (c *Controller) checkChatOpen(ctx context.Context, hangoutId string) error {
	hangout, err := c.store.GetHangout(ctx, hangoutId)
	if err != nil {
		return err
	}
	if !c.phase(hangout).Open() {
		return types.ErrHangoutExpired
	}
	return nil
}

func (c *Controller) checkMember(ctx context.Context, hangoutId, userId string) error {
	participants, err := c.store.ListParticipants(ctx, hangoutId)
	if err != nil {
		return err
	}
	for _, participant := range participants {
		if participant.UserId == userId && participant.Status == types.ParticipantApproved {
			return nil
		}
	}
	return fmt.Errorf("only approved participants can chat: %w", types.ErrForbidden)
}
