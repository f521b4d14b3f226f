package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Session is one inferred connection period. A client has at most one
// active session; StartSession enforces that inside a transaction.
type Session struct {
	ID       uint       `gorm:"primaryKey" json:"id"`
	ClientID uint       `gorm:"index;not null" json:"client_id"`
	StartAt  time.Time  `gorm:"not null" json:"start_at"`
	EndAt    *time.Time `json:"end_at"`
	Active   bool       `gorm:"index;not null;default:false" json:"active"`
}

// ActiveSession returns the client's open session, or nil when the
// client is offline.
func (r *Registry) ActiveSession(ctx context.Context, clientID uint) (*Session, error) {
	var session Session
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND active = ?", clientID, true).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	return &session, nil
}

// StartSession opens a session beginning at the given time. A second
// open session for the same client is refused with ErrSessionActive.
func (r *Registry) StartSession(ctx context.Context, clientID uint, startAt time.Time) (*Session, error) {
	session := &Session{ClientID: clientID, StartAt: startAt, Active: true}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Session{}).
			Where("client_id = ? AND active = ?", clientID, true).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrSessionActive
		}
		return tx.Create(session).Error
	})
	if err != nil {
		if errors.Is(err, ErrSessionActive) {
			return nil, err
		}
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

// EndSession closes the client's active session at the given time.
// Returns ErrNotFound when no session is open.
func (r *Registry) EndSession(ctx context.Context, clientID uint, endAt time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		err := tx.Where("client_id = ? AND active = ?", clientID, true).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		session.EndAt = &endAt
		session.Active = false
		return tx.Save(&session).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Sessions returns a client's sessions, most recent first. A limit of
// zero or less returns all of them.
func (r *Registry) Sessions(ctx context.Context, clientID uint, limit int) ([]Session, error) {
	tx := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("start_at DESC, id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var sessions []Session
	if err := tx.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	return sessions, nil
}

// CountActiveSessions returns how many clients are currently online.
func (r *Registry) CountActiveSessions(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Session{}).Where("active = ?", true).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}
