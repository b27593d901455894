package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/adda/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// countApproval applies the reputation rules of one approved participation: the adda count grows by one, the
// streak grows on consecutive (UTC) days and restarts after a gap.
func countApproval(profile *types.Profile, now time.Time) {
	profile.AddaCount++
	today := truncateDay(now)
	switch {
	case profile.LastHangoutDate == nil:
		profile.StreakDays = 1
	default:
		last := truncateDay(*profile.LastHangoutDate)
		days := int(today.Sub(last).Hours() / 24)
		switch {
		case days <= 0:
			if profile.StreakDays == 0 {
				profile.StreakDays = 1
			}
		case days == 1:
			profile.StreakDays++
		default:
			profile.StreakDays = 1
		}
	}
	profile.LastHangoutDate = &today
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// saveCounters writes the store-maintained profile columns.
func saveCounters(tx *gorm.DB, rec *recorder, profile *types.Profile) error {
	profile.UpdatedAt = rec.now
	err := tx.Model(profile).Select("adda_count", "hosted_count", "streak_days", "last_hangout_date", "updated_at").
		Updates(profile).Error
	if err != nil {
		return err
	}
	rec.record(types.TableProfiles, types.ChangeUpdate, profile.Id, profile)
	return nil
}

func notify(tx *gorm.DB, rec *recorder, notification *types.Notification) error {
	notification.Id = uuid.NewString()
	notification.CreatedAt = rec.now
	err := tx.Omit(clause.Associations).Create(notification).Error
	if err != nil {
		return err
	}
	rec.record(types.TableNotifications, types.ChangeInsert, notification.Id, notification)
	return nil
}

func notifyJoinRequest(tx *gorm.DB, rec *recorder, hangout *types.Hangout, requester *types.Profile) error {
	hangoutId := hangout.Id
	return notify(tx, rec, &types.Notification{
		UserId:    hangout.CreatorId,
		Type:      types.NotificationJoinRequest,
		Title:     "New join request",
		Message:   fmt.Sprintf("%s wants to join %q", requester.Name, hangout.Title),
		Link:      "/hangout/" + hangout.Id,
		HangoutId: &hangoutId,
	})
}

func notifyApproved(tx *gorm.DB, rec *recorder, hangout *types.Hangout, userId string) error {
	hangoutId := hangout.Id
	return notify(tx, rec, &types.Notification{
		UserId:    userId,
		Type:      types.NotificationApproved,
		Title:     "You're in!",
		Message:   fmt.Sprintf("Your request to join %q was approved", hangout.Title),
		Link:      "/hangout/" + hangout.Id,
		HangoutId: &hangoutId,
	})
}

func notifyBanned(tx *gorm.DB, rec *recorder, userId, reason string) error {
	message := "Your account has been suspended"
	if reason != "" {
		message += ": " + reason
	}
	return notify(tx, rec, &types.Notification{
		UserId:  userId,
		Type:    types.NotificationSystem,
		Title:   "Account suspended",
		Message: message,
	})
}
