// Package access is the persistence collaborator: session and purchase
// records behind the "may this user start this session" boundary check.
// The sync core never touches it past that check.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrSessionNotFound = errors.New("session record not found")

type SessionRecord struct {
	Code       string `gorm:"primaryKey;size:12"`
	MysteryID  string `gorm:"size:64;not null"`
	HostUserID string `gorm:"size:64;not null"`
	Status     string `gorm:"size:16;not null;default:lobby"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Purchase grants a user access to a mystery. Unique on (user, mystery)
// so grants are idempotent.
type Purchase struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:idx_user_mystery"`
	MysteryID string `gorm:"size:64;not null;uniqueIndex:idx_user_mystery"`
	Source    string `gorm:"size:32;not null"`
	CreatedAt time.Time
}

// ProcessedWebhookEvent is the durable seen-set for webhook dedupe.
type ProcessedWebhookEvent struct {
	EventID    string `gorm:"primaryKey;size:128"`
	ReceivedAt time.Time
}

type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open access store: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}, &Purchase{}, &ProcessedWebhookEvent{}); err != nil {
		return nil, fmt.Errorf("migrate access store: %w", err)
	}
	return &Store{db: db}, nil
}

// HasAccess is the boundary check run before a user enters the lobby.
func (s *Store) HasAccess(ctx context.Context, userID, mysteryID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Purchase{}).
		Where("user_id = ? AND mystery_id = ?", userID, mysteryID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("access check: %w", err)
	}
	return count > 0, nil
}

// Grant is idempotent on (userID, mysteryID): granting twice is a no-op.
func (s *Store) Grant(ctx context.Context, userID, mysteryID, source string) error {
	err := s.db.WithContext(ctx).
		Where(Purchase{UserID: userID, MysteryID: mysteryID}).
		Attrs(Purchase{Source: source}).
		FirstOrCreate(&Purchase{}).Error
	if err != nil {
		return fmt.Errorf("grant access: %w", err)
	}
	return nil
}

// MarkEventProcessed records a webhook event id; first reports whether
// this call was the first sighting. Every later call is a duplicate the
// caller must ignore.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) (first bool, err error) {
	res := s.db.WithContext(ctx).
		Where(ProcessedWebhookEvent{EventID: eventID}).
		Attrs(ProcessedWebhookEvent{ReceivedAt: time.Now().UTC()}).
		FirstOrCreate(&ProcessedWebhookEvent{})
	if res.Error != nil {
		return false, fmt.Errorf("mark event processed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create session record: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, code string) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).First(&rec, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session record: %w", err)
	}
	return rec, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, code, status string) error {
	err := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("code = ?", code).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}
