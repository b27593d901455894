package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/blobstore"
	"github.com/tcriess/adda/clock"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/types"
)

// ImageStore keeps the images posted to hangout chats. Images of a deleted hangout are removed with it.
type ImageStore interface {
	UploadChatImage(ctx context.Context, hangoutId, contentType string, r io.Reader) (*blobstore.Blob, error)
	DeleteChatImages(ctx context.Context, hangoutId string) (int, error)
}

// Controller applies the hangout lifecycle rules. Input is validated before any store call; authorization and
// capacity are enforced again by the store inside its transactions.
type Controller struct {
	store  persistence.Persister
	images ImageStore
	policy config.PolicyConfig
	now    func() time.Time
	logger hclog.Logger
}

// NewController returns a controller for the given store. images may be nil, SendImage fails then.
func NewController(store persistence.Persister, images ImageStore, policy config.PolicyConfig) *Controller {
	if policy.HangoutDuration <= 0 {
		policy.HangoutDuration = types.HangoutDuration
	}
	if policy.EndingSoonWindow <= 0 {
		policy.EndingSoonWindow = clock.DefaultEndingSoonWindow
	}
	if policy.FeedLimit <= 0 {
		policy.FeedLimit = 50
	}
	if policy.RecentWindow <= 0 {
		policy.RecentWindow = 24 * time.Hour
	}
	return &Controller{
		store:  store,
		images: images,
		policy: policy,
		now:    time.Now,
		logger: globals.AppLogger.Named("lifecycle"),
	}
}

func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Create validates the draft and stores the hangout together with the creator's approved membership.
func (c *Controller) Create(ctx context.Context, creatorId string, draft types.HangoutDraft) (*types.Hangout, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	draft.LocationText = strings.TrimSpace(draft.LocationText)
	err := types.ValidateStruct(draft)
	if err != nil {
		return nil, err
	}
	err = c.checkStartTime(draft.StartTime)
	if err != nil {
		return nil, err
	}
	if creatorId == "" {
		return nil, types.NewValidationError("creator_id", "is required")
	}
	hangout := &types.Hangout{
		CreatorId:       creatorId,
		ActivityType:    draft.ActivityType,
		Title:           draft.Title,
		LocationText:    draft.LocationText,
		StartTime:       draft.StartTime.UTC(),
		ExpiresAt:       draft.StartTime.UTC().Add(c.policy.HangoutDuration),
		MaxParticipants: draft.MaxParticipants,
	}
	_, err = c.store.CreateHangout(ctx, hangout)
	if err != nil {
		return nil, err
	}
	c.logger.Info("hangout created", "id", hangout.Id, "creator", creatorId, "activity", hangout.ActivityType)
	return hangout, nil
}

func (c *Controller) checkStartTime(start time.Time) error {
	if start.IsZero() {
		return types.NewValidationError("start_time", "is required")
	}
	now := c.now()
	if start.Before(now.Add(-c.policy.StartGrace)) {
		return types.NewValidationError("start_time", "must not be in the past")
	}
	if c.policy.MaxLeadTime > 0 && start.After(now.Add(c.policy.MaxLeadTime)) {
		return types.NewValidationError("start_time", fmt.Sprintf("must be within %s", c.policy.MaxLeadTime))
	}
	return nil
}

// RequestJoin creates a pending join request for the user. A second request returns the existing record together
// with types.ErrDuplicateRequest.
func (c *Controller) RequestJoin(ctx context.Context, hangoutId, userId string) (*types.Participant, error) {
	if userId == "" {
		return nil, types.NewValidationError("user_id", "is required")
	}
	hangout, err := c.store.GetHangout(ctx, hangoutId)
	if err != nil {
		return nil, err
	}
	if !c.phase(hangout).Open() {
		return nil, types.ErrHangoutExpired
	}
	participant, err := c.store.JoinHangout(ctx, hangoutId, userId)
	if err != nil {
		return participant, err
	}
	c.logger.Debug("join requested", "hangout", hangoutId, "user", userId, "status", participant.Status)
	return participant, nil
}

// Decide approves or rejects a pending join request. Only the host or an admin may decide.
func (c *Controller) Decide(ctx context.Context, participantId string, approve bool, actingUserId string) (*types.Participant, error) {
	status := types.ParticipantRejected
	if approve {
		status = types.ParticipantApproved
	}
	participant, err := c.store.DecideParticipant(ctx, participantId, status, actingUserId)
	if err != nil {
		if errors.Is(err, types.ErrHangoutFull) {
			c.logger.Debug("approval rejected, hangout is full", "participant", participantId)
		}
		return nil, err
	}
	c.logger.Debug("join request decided", "participant", participantId, "status", status, "by", actingUserId)
	return participant, nil
}

// DeleteHangout hard-deletes the hangout with everything referencing it, including its chat images.
func (c *Controller) DeleteHangout(ctx context.Context, hangoutId, actingUserId string) error {
	err := c.store.DeleteHangout(ctx, hangoutId, actingUserId)
	if err != nil {
		return err
	}
	c.logger.Info("hangout deleted", "id", hangoutId, "by", actingUserId)
	purgeImages(ctx, c.images, c.logger, hangoutId)
	return nil
}

// purgeImages removes the chat images of a deleted hangout. The rows are gone already, so failures are only logged.
func purgeImages(ctx context.Context, images ImageStore, logger hclog.Logger, hangoutId string) {
	if images == nil {
		return
	}
	_, err := images.DeleteChatImages(ctx, hangoutId)
	if err != nil {
		logger.Warn("could not delete chat images", "hangout", hangoutId, "error", err)
	}
}

func (c *Controller) phase(hangout *types.Hangout) clock.Phase {
	return clock.ClassifyWithin(c.now(), hangout.StartTime, hangout.ExpiresAt, c.policy.EndingSoonWindow)
}
