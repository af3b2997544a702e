package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"telehealth-server/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// Messages is the doctor inbox.
type Messages struct {
	db *gorm.DB
}

// NewMessages creates an inbox store on db.
func NewMessages(db *gorm.DB) *Messages {
	return &Messages{db: db}
}

// Send stores a new unread message.
func (s *Messages) Send(ctx context.Context, msg *models.Message) error {
	msg.Read = false
	msg.ReadAt = nil
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// ListByDoctor returns the doctor's inbox, newest first.
func (s *Messages) ListByDoctor(ctx context.Context, doctorID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Preload("Patient").
		Where("doctor_id = ?", doctorID).
		Order("created_at desc").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return msgs, nil
}

// MarkRead marks one of the doctor's messages as read. Marking an already
// read message is a no-op.
func (s *Messages) MarkRead(ctx context.Context, doctorID, messageID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).
		First(&msg, "id = ? AND doctor_id = ?", messageID, doctorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	if msg.Read {
		return &msg, nil
	}

	now := time.Now()
	msg.Read = true
	msg.ReadAt = &now
	if err := s.db.WithContext(ctx).
		Model(&msg).
		Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, fmt.Errorf("mark message %s read: %w", messageID, err)
	}
	return &msg, nil
}

// UnreadCount returns how many inbox messages the doctor has not read.
func (s *Messages) UnreadCount(ctx context.Context, doctorID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("doctor_id = ? AND is_read = ?", doctorID, false).
		Count(&n).Error
	return n, err
}
