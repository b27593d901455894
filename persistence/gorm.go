package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// changeRow is the persisted form of a types.ChangeEvent.
type changeRow struct {
	Id       string         `gorm:"primaryKey;size:36"`
	Entity   string         `gorm:"size:32;not null;index"`
	Kind     string         `gorm:"size:8;not null"`
	RecordId string         `gorm:"size:36;not null"`
	Payload  datatypes.JSON `gorm:"not null"`
	Created  time.Time      `gorm:"not null;index"`
}

func (changeRow) TableName() string {
	return "change_events"
}

type GormPersist struct {
	db        *gorm.DB
	publisher Publisher
	now       func() time.Time
	logger    hclog.Logger
}

var _ Persister = &GormPersist{}

// NewGormPersister opens the configured database, migrates the schema and returns the store. The publisher (may be
// nil) receives the change events after each commit.
func NewGormPersister(cfg *config.Config, publisher Publisher) (*GormPersist, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	p := GormPersist{
		db:        db,
		publisher: publisher,
		now:       time.Now,
		logger:    globals.AppLogger.Named("persistence"),
	}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no persistence dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite", "":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
	}
	logLevel := logger.Silent
	if l := strings.ToUpper(cfg.LogLevel); l == "TRACE" {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	if dial.Name() == "sqlite" {
		// one connection serializes the transactions, sqlite would otherwise fail concurrent writers with SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&types.Profile{}, &types.Account{}, &types.PasswordReset{}, &types.Hangout{},
		&types.Participant{}, &types.Message{}, &types.Notification{}, &types.Report{}, &changeRow{})
	if err != nil {
		return nil, fmt.Errorf("could not migrate schema: %w", err)
	}
	return db, nil
}

// SetClock replaces the clock used for timestamps and expiry checks.
func (p *GormPersist) SetClock(now func() time.Time) {
	p.now = now
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// recorder collects the change events of one transaction.
type recorder struct {
	now    time.Time
	events []*types.ChangeEvent
}

func (r *recorder) record(table string, kind types.ChangeKind, id string, row interface{}) {
	r.events = append(r.events, &types.ChangeEvent{
		Id:       uuid.NewString(),
		Table:    table,
		Kind:     kind,
		RecordId: id,
		Record:   toRecord(row),
		Created:  r.now,
	})
}

// toRecord converts a row into its JSON object form, which is what subscribers and filters see.
func toRecord(row interface{}) map[string]interface{} {
	res := make(map[string]interface{})
	data, err := json.Marshal(row)
	if err != nil {
		return res
	}
	_ = json.Unmarshal(data, &res)
	return res
}

// mutate runs fn in a transaction, persists the recorded change events with it and publishes them after commit.
func (p *GormPersist) mutate(ctx context.Context, fn func(tx *gorm.DB, rec *recorder) error) error {
	rec := &recorder{now: p.now().UTC()}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx, rec); err != nil {
			return err
		}
		if len(rec.events) == 0 {
			return nil
		}
		rows := make([]*changeRow, 0, len(rec.events))
		for _, event := range rec.events {
			payload, err := json.Marshal(event.Record)
			if err != nil {
				return err
			}
			rows = append(rows, &changeRow{
				Id:       event.Id,
				Entity:   event.Table,
				Kind:     string(event.Kind),
				RecordId: event.RecordId,
				Payload:  datatypes.JSON(payload),
				Created:  event.Created,
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return err
	}
	if p.publisher != nil && len(rec.events) > 0 {
		p.publisher.Publish(rec.events...)
	}
	return nil
}

// notFound maps gorm's missing-row error onto types.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, types.ErrNotFound)
	}
	return err
}

// forUpdate locks the selected rows until the end of the transaction where the database supports it. sqlite runs
// on a single connection, so transactions are serialized there anyway.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func loadProfile(tx *gorm.DB, id string) (*types.Profile, error) {
	profile := &types.Profile{}
	err := tx.First(profile, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "profile", id)
	}
	return profile, nil
}

// GetChangeHistory returns a slice of change events from db, newest first.
//
// Use fromTs/toTs to restrict the time range, and fromIdx/maxCount for pagination.
func (p *GormPersist) GetChangeHistory(ctx context.Context, fromTs, toTs time.Time, fromIdx, maxCount int) ([]*types.ChangeEvent, error) {
	rows := make([]*changeRow, 0)
	q := p.db.WithContext(ctx).Where("created BETWEEN ? AND ?", fromTs.UTC(), toTs.UTC()).Order("created DESC").Offset(fromIdx)
	if maxCount > 0 {
		q = q.Limit(maxCount)
	}
	err := q.Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]*types.ChangeEvent, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]interface{})
		_ = json.Unmarshal(row.Payload, &record)
		events = append(events, &types.ChangeEvent{
			Id:       row.Id,
			Table:    row.Entity,
			Kind:     types.ChangeKind(row.Kind),
			RecordId: row.RecordId,
			Record:   record,
			Created:  row.Created,
		})
	}
	return events, nil
}
