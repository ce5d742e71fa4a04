package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditSession is one reconciliation pass over a slice of a user's inventory.
//
// ActiveOwnerId mirrors OwnerId while the session is active and is NULL otherwise.
// Its unique index is what guarantees a single active session per owner.
type AuditSession struct {
	ID            int                `gorm:"primary_key" json:"id"`
	OwnerId       string             `gorm:"size:64;not null;index:idx_audit_sessions_owner_status,priority:1" json:"owner_id"`
	ActiveOwnerId *string            `gorm:"size:64;uniqueIndex:uniq_audit_sessions_active_owner" json:"-"`
	Scope         AuditScope         `gorm:"size:20;not null" json:"scope"`
	ScopeRef      *string            `gorm:"size:64" json:"scope_ref"`
	Status        AuditSessionStatus `gorm:"size:20;not null;default:'active';index:idx_audit_sessions_owner_status,priority:2" json:"status"`
	ExpiresAt     time.Time          `gorm:"index;not null" json:"expires_at"`
	FinalizedAt   *time.Time         `json:"finalized_at"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *AuditSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *AuditSession) ScopeRefValue() string {
	return utils.DereferencePtr(s.ScopeRef)
}

type NewAuditSession struct {
	Scope    AuditScope `json:"scope" binding:"required,oneof=collection binder deck set"`
	ScopeRef string     `json:"scopeRef"`
}

func (input *NewAuditSession) validate() error {
	if !input.Scope.IsValid() {
		return invalidInput("unknown scope " + string(input.Scope))
	}
	input.ScopeRef = strings.TrimSpace(input.ScopeRef)
	if input.Scope.NeedsRef() && input.ScopeRef == "" {
		return invalidInput(string(input.Scope) + " scope requires scopeRef")
	}
	if !input.Scope.NeedsRef() {
		input.ScopeRef = ""
	}
	return nil
}

func requireOwner(ownerId string) error {
	if ownerId == "" {
		return invalidInput("owner id is required")
	}
	return nil
}

// StartAuditSession snapshots the scoped inventory into a new active session.
// Fails with *ActiveSessionError while another session is active for ownerId.
func StartAuditSession(ctx context.Context, ownerId string, input *NewAuditSession) (*AuditSession, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, invalidInput("input is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	existing, err := GetActiveAuditSession(ctx, ownerId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ActiveSessionError{Session: existing}
	}

	db := config.GetDB()
	now := time.Now().UTC()
	session := AuditSession{
		OwnerId:       ownerId,
		ActiveOwnerId: &ownerId,
		Scope:         input.Scope,
		ScopeRef:      utils.NilIfEmpty(input.ScopeRef),
		Status:        AuditSessionStatusActive,
		ExpiresAt:     now.Add(config.AuditSessionTTL()),
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		items, err := BuildAuditSnapshot(ctx, tx, &session)
		if err != nil {
			return err
		}
		if err := tx.CreateInBatches(&items, 500).Error; err != nil {
			return err
		}
		return PublishAuditEvent(ctx, tx, &session, AuditEventSessionStarted, map[string]interface{}{
			"scope":      session.Scope,
			"scope_ref":  session.ScopeRefValue(),
			"item_count": len(items),
		})
	}, config.SnapshotTxOptions(db))
	if err != nil {
		if utils.IsDuplicateKeyError(err) {
			// lost the race against a concurrent start
			winner, lookupErr := GetActiveAuditSession(ctx, ownerId)
			if lookupErr == nil && winner != nil {
				return nil, &ActiveSessionError{Session: winner}
			}
			return nil, ErrActiveSessionExists
		}
		return nil, err
	}

	config.LogSessionTransition(config.GetLogger(), ownerId, session.ID, correlationId(ctx), "started")
	return &session, nil
}

// GetActiveAuditSession returns nil, nil when ownerId has no active session.
//
// With expiry enforced an expired session is cancelled here and nil is returned.
func GetActiveAuditSession(ctx context.Context, ownerId string) (*AuditSession, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}
	db := config.GetDB()

	var session AuditSession
	err := db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerId, AuditSessionStatusActive).
		Order("created_at DESC, id DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if config.AuditExpiryEnforced() && session.IsExpired(time.Now().UTC()) {
		if err := CancelAuditSession(ctx, ownerId, session.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		config.LogSessionTransition(config.GetLogger(), ownerId, session.ID, correlationId(ctx), "expired")
		return nil, nil
	}
	return &session, nil
}

// GetAuditSession returns any session of ownerId regardless of status.
func GetAuditSession(ctx context.Context, ownerId string, sessionId int) (*AuditSession, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}
	return utils.FetchModel[AuditSession](ctx, nil, ownerId, sessionId)
}

// CancelAuditSession discards an active session and every item in it. Inventory is untouched.
func CancelAuditSession(ctx context.Context, ownerId string, sessionId int) error {
	if err := requireOwner(ownerId); err != nil {
		return err
	}
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := LockAuditSession(ctx, tx, ownerId, sessionId)
		if err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", session.ID).Delete(&AuditItem{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(session).Error; err != nil {
			return err
		}
		return PublishAuditEvent(ctx, tx, session, AuditEventSessionCancelled, nil)
	})
	if err != nil {
		return err
	}
	config.LogSessionTransition(config.GetLogger(), ownerId, sessionId, correlationId(ctx), "cancelled")
	return nil
}

// LockAuditSession loads an active session of ownerId inside tx, holding its row lock on MySQL.
// Returns ErrNotFound for unknown or foreign sessions and ErrInvalidState once it is no longer active.
func LockAuditSession(ctx context.Context, tx *gorm.DB, ownerId string, sessionId int) (*AuditSession, error) {
	q := tx.WithContext(ctx)
	if config.IsMySQL(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var session AuditSession
	if err := q.Where("id = ? AND owner_id = ?", sessionId, ownerId).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if session.Status != AuditSessionStatusActive {
		return nil, invalidState("session is " + string(session.Status))
	}
	return &session, nil
}

// lockMutableSession is LockAuditSession plus the expiry rule for ledger writes.
func lockMutableSession(ctx context.Context, tx *gorm.DB, ownerId string, sessionId int) (*AuditSession, error) {
	session, err := LockAuditSession(ctx, tx, ownerId, sessionId)
	if err != nil {
		return nil, err
	}
	if config.AuditExpiryEnforced() && session.IsExpired(time.Now().UTC()) {
		return nil, invalidState("session expired")
	}
	return session, nil
}

// ListExpiredAuditSessions returns active sessions whose expires_at is at or before now, oldest first.
func ListExpiredAuditSessions(ctx context.Context, now time.Time, limit int) ([]AuditSession, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", AuditSessionStatusActive, now.UTC()).
		Order("expires_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var sessions []AuditSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func correlationId(ctx context.Context) string {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	return cid
}
