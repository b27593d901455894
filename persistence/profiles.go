package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/tcriess/adda/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const occupationSep = " · "

func (p *GormPersist) StoreProfile(ctx context.Context, profile *types.Profile) error {
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		if profile.Role == "" {
			profile.Role = types.RoleGeneral
		}
		profile.CreatedAt = rec.now
		profile.UpdatedAt = rec.now
		err := tx.Omit(clause.Associations).Create(profile).Error
		if err != nil {
			return err
		}
		rec.record(types.TableProfiles, types.ChangeInsert, profile.Id, profile)
		return nil
	})
}

func (p *GormPersist) GetProfile(ctx context.Context, id string) (*types.Profile, error) {
	return loadProfile(p.db.WithContext(ctx), id)
}

// UpdateProfile applies the non-nil fields of update. Department and year are stored together as the occupation
// "Department · Year".
func (p *GormPersist) UpdateProfile(ctx context.Context, id string, update types.ProfileUpdate) (*types.Profile, error) {
	var profile *types.Profile
	err := p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		var err error
		profile, err = loadProfile(forUpdate(tx), id)
		if err != nil {
			return err
		}
		if update.Name != nil {
			profile.Name = strings.TrimSpace(*update.Name)
		}
		if update.AvatarUrl != nil {
			profile.AvatarUrl = *update.AvatarUrl
		}
		if update.Department != nil || update.Year != nil {
			department, year := SplitOccupation(profile.Occupation)
			if update.Department != nil {
				department = strings.TrimSpace(*update.Department)
			}
			if update.Year != nil {
				year = strings.TrimSpace(*update.Year)
			}
			profile.Occupation = JoinOccupation(department, year)
		}
		if update.Location != nil {
			profile.Location = strings.TrimSpace(*update.Location)
		}
		if update.Bio != nil {
			profile.Bio = *update.Bio
		}
		if update.Interests != nil {
			profile.Interests = *update.Interests
		}
		profile.UpdatedAt = rec.now
		err = tx.Model(profile).Select("name", "avatar_url", "occupation", "location", "bio", "interests", "updated_at").
			Updates(profile).Error
		if err != nil {
			return err
		}
		rec.record(types.TableProfiles, types.ChangeUpdate, profile.Id, profile)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// SplitOccupation splits "Department · Year" into its parts.
func SplitOccupation(occupation string) (string, string) {
	parts := strings.SplitN(occupation, strings.TrimSpace(occupationSep), 2)
	department := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return department, ""
	}
	return department, strings.TrimSpace(parts[1])
}

func JoinOccupation(department, year string) string {
	switch {
	case department == "" && year == "":
		return ""
	case year == "":
		return department
	case department == "":
		return strings.TrimSpace(occupationSep) + " " + year
	}
	return department + occupationSep + year
}

func (p *GormPersist) SetRole(ctx context.Context, id string, role types.Role) error {
	if role != types.RoleGeneral && role != types.RoleAdmin {
		return types.NewValidationError("role", fmt.Sprintf("unknown role %q", role))
	}
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		profile, err := loadProfile(tx, id)
		if err != nil {
			return err
		}
		if profile.Role == role {
			return nil
		}
		profile.Role = role
		profile.UpdatedAt = rec.now
		err = tx.Model(profile).Select("role", "updated_at").Updates(profile).Error
		if err != nil {
			return err
		}
		rec.record(types.TableProfiles, types.ChangeUpdate, profile.Id, profile)
		return nil
	})
}

// CreateUser stores the profile together with its credentials record in one transaction, so a failing account never
// leaves a profile behind. The e-mail address is stored lower-cased and must be unused.
func (p *GormPersist) CreateUser(ctx context.Context, profile *types.Profile, account *types.Account) error {
	account.Email = normalizeEmail(account.Email)
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		var count int64
		err := tx.Model(&types.Account{}).Where("email = ?", account.Email).Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return types.ErrEmailTaken
		}
		if profile.Role == "" {
			profile.Role = types.RoleGeneral
		}
		profile.CreatedAt = rec.now
		profile.UpdatedAt = rec.now
		err = tx.Omit(clause.Associations).Create(profile).Error
		if err != nil {
			return err
		}
		account.UserId = profile.Id
		account.CreatedAt = rec.now
		account.UpdatedAt = rec.now
		err = tx.Create(account).Error
		if err != nil {
			return err
		}
		rec.record(types.TableProfiles, types.ChangeInsert, profile.Id, profile)
		return nil
	})
}

func (p *GormPersist) GetAccountByEmail(ctx context.Context, email string) (*types.Account, error) {
	account := &types.Account{}
	email = normalizeEmail(email)
	err := p.db.WithContext(ctx).First(account, "email = ?", email).Error
	if err != nil {
		return nil, notFound(err, "account", email)
	}
	return account, nil
}

func (p *GormPersist) UpdatePassword(ctx context.Context, userId, passwordHash string) error {
	res := p.db.WithContext(ctx).Model(&types.Account{}).Where("user_id = ?", userId).
		Updates(map[string]interface{}{"password_hash": passwordHash, "updated_at": p.now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", userId, types.ErrNotFound)
	}
	return nil
}

func (p *GormPersist) StorePasswordReset(ctx context.Context, reset *types.PasswordReset) error {
	reset.ExpiresAt = reset.ExpiresAt.UTC()
	return p.db.WithContext(ctx).Create(reset).Error
}

// ConsumePasswordReset marks the token as used and returns it. Unknown, used and expired tokens all fail.
func (p *GormPersist) ConsumePasswordReset(ctx context.Context, token string) (*types.PasswordReset, error) {
	reset := &types.PasswordReset{}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := forUpdate(tx).First(reset, "token = ?", token).Error
		if err != nil {
			return notFound(err, "reset token", token)
		}
		now := p.now().UTC()
		if reset.UsedAt != nil {
			return types.NewValidationError("token", "already used")
		}
		if !now.Before(reset.ExpiresAt) {
			return types.NewValidationError("token", "expired")
		}
		reset.UsedAt = &now
		return tx.Model(reset).Update("used_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ListNotifications returns the user's notifications, newest first.
func (p *GormPersist) ListNotifications(ctx context.Context, userId string, limit int) ([]*types.Notification, error) {
	notifications := make([]*types.Notification, 0)
	q := p.db.WithContext(ctx).Where("user_id = ?", userId).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkNotificationsRead marks the given notifications (all unread ones if ids is empty) of the user as read.
func (p *GormPersist) MarkNotificationsRead(ctx context.Context, userId string, ids []string) error {
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		notifications := make([]*types.Notification, 0)
		q := tx.Where("user_id = ? AND read = ?", userId, false)
		if len(ids) > 0 {
			q = q.Where("id IN ?", ids)
		}
		err := q.Find(&notifications).Error
		if err != nil {
			return err
		}
		for _, notification := range notifications {
			notification.Read = true
			err = tx.Model(notification).Update("read", true).Error
			if err != nil {
				return err
			}
			rec.record(types.TableNotifications, types.ChangeUpdate, notification.Id, notification)
		}
		return nil
	})
}

func (p *GormPersist) DeleteNotification(ctx context.Context, userId, id string) error {
	return p.mutate(ctx, func(tx *gorm.DB, rec *recorder) error {
		notification := &types.Notification{}
		err := tx.First(notification, "id = ?", id).Error
		if err != nil {
			return notFound(err, "notification", id)
		}
		if notification.UserId != userId {
			return fmt.Errorf("notification belongs to another user: %w", types.ErrForbidden)
		}
		err = tx.Delete(notification).Error
		if err != nil {
			return err
		}
		rec.record(types.TableNotifications, types.ChangeDelete, notification.Id, notification)
		return nil
	})
}
