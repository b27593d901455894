package persistence

import (
	"context"
	"time"

	"github.com/tcriess/adda/types"
)

// Publisher receives the change events of every committed mutation.
type Publisher interface {
	Publish(events ...*types.ChangeEvent)
}

// ReportQuery filters report listings. An empty Statuses slice means every status.
type ReportQuery struct {
	Statuses []types.ReportStatus
	Limit    int
}

// Persister is the contract of the backing store. Mutations that must be atomic or authorized (creating a hangout
// together with its host's membership, joining, deciding on a join request, deleting, resolving reports, banning)
// are single calls that run inside one store transaction and check the acting user themselves.
type Persister interface {
	StoreProfile(ctx context.Context, profile *types.Profile) error
	GetProfile(ctx context.Context, id string) (*types.Profile, error)
	UpdateProfile(ctx context.Context, id string, update types.ProfileUpdate) (*types.Profile, error)
	SetRole(ctx context.Context, id string, role types.Role) error

	CreateUser(ctx context.Context, profile *types.Profile, account *types.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*types.Account, error)
	UpdatePassword(ctx context.Context, userId, passwordHash string) error
	StorePasswordReset(ctx context.Context, reset *types.PasswordReset) error
	ConsumePasswordReset(ctx context.Context, token string) (*types.PasswordReset, error)

	CreateHangout(ctx context.Context, hangout *types.Hangout) (*types.Participant, error)
	GetHangout(ctx context.Context, id string) (*types.Hangout, error)
	ListHangouts(ctx context.Context, query types.HangoutQuery) ([]*types.Hangout, error)
	DeleteHangout(ctx context.Context, id, actingUserId string) error
	DeleteExpiredHangouts(ctx context.Context, before time.Time) ([]string, error)

	JoinHangout(ctx context.Context, hangoutId, userId string) (*types.Participant, error)
	GetParticipant(ctx context.Context, id string) (*types.Participant, error)
	ListParticipants(ctx context.Context, hangoutId string) ([]*types.Participant, error)
	DecideParticipant(ctx context.Context, participantId string, status types.ParticipantStatus, actingUserId string) (*types.Participant, error)

	StoreMessage(ctx context.Context, message *types.Message) error
	ListMessages(ctx context.Context, hangoutId string) ([]*types.Message, error)

	ListNotifications(ctx context.Context, userId string, limit int) ([]*types.Notification, error)
	MarkNotificationsRead(ctx context.Context, userId string, ids []string) error
	DeleteNotification(ctx context.Context, userId, id string) error

	StoreReport(ctx context.Context, report *types.Report) error
	GetReport(ctx context.Context, id string) (*types.Report, error)
	ListReports(ctx context.Context, query ReportQuery) ([]*types.Report, error)
	ResolveReport(ctx context.Context, reportId string, status types.ReportStatus, actingUserId string) (*types.Report, error)
	BanUser(ctx context.Context, userId, reason, actingUserId string) (int, error)

	GetChangeHistory(ctx context.Context, fromTs, toTs time.Time, fromIdx, maxCount int) ([]*types.ChangeEvent, error)
	Close() error
}
