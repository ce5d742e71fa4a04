package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

type AuditScope string

const (
	AuditScopeCollection AuditScope = "collection"
	AuditScopeBinder     AuditScope = "binder"
	AuditScopeDeck       AuditScope = "deck"
	AuditScopeSet        AuditScope = "set"
)

func (s AuditScope) IsValid() bool {
	switch s {
	case AuditScopeCollection, AuditScopeBinder, AuditScopeDeck, AuditScopeSet:
		return true
	}
	return false
}

// scopes that address a specific deck or set
func (s AuditScope) NeedsRef() bool {
	return s == AuditScopeDeck || s == AuditScopeSet
}

type AuditSessionStatus string

const (
	AuditSessionStatusActive    AuditSessionStatus = "active"
	AuditSessionStatusFinalized AuditSessionStatus = "finalized"
	AuditSessionStatusCancelled AuditSessionStatus = "cancelled"
)

type ReviewState string

const (
	ReviewStatePending    ReviewState = "pending"
	ReviewStateMatched    ReviewState = "matched"
	ReviewStateMismatched ReviewState = "mismatched"
)

func (s ReviewState) IsValid() bool {
	switch s {
	case ReviewStatePending, ReviewStateMatched, ReviewStateMismatched:
		return true
	}
	return false
}

// CardFinish is the printing treatment of a physical card.
type CardFinish string

const (
	CardFinishNonfoil CardFinish = "nonfoil"
	CardFinishFoil    CardFinish = "foil"
	CardFinishEtched  CardFinish = "etched"
)

func (f CardFinish) IsValid() bool {
	switch f {
	case CardFinishNonfoil, CardFinishFoil, CardFinishEtched:
		return true
	}
	return false
}

// Opposite returns the foil/nonfoil counterpart. Etched has none.
func (f CardFinish) Opposite() (CardFinish, bool) {
	switch f {
	case CardFinishFoil:
		return CardFinishNonfoil, true
	case CardFinishNonfoil:
		return CardFinishFoil, true
	}
	return "", false
}

// NormalizeFinish maps blank or legacy values to a CardFinish; unknown values are nonfoil.
func NormalizeFinish(v string) CardFinish {
	switch f := CardFinish(strings.ToLower(strings.TrimSpace(v))); f {
	case CardFinishFoil, CardFinishEtched:
		return f
	}
	return CardFinishNonfoil
}

func (f *CardFinish) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*f = CardFinishNonfoil
	case string:
		*f = NormalizeFinish(v)
	case []byte:
		*f = NormalizeFinish(string(v))
	default:
		return errors.New(fmt.Sprint("failed to scan card finish: ", value))
	}
	return nil
}

func (f CardFinish) Value() (driver.Value, error) {
	return string(NormalizeFinish(string(f))), nil
}

type AuditEventType string

const (
	AuditEventSessionStarted   AuditEventType = "audit.session.started"
	AuditEventSessionCancelled AuditEventType = "audit.session.cancelled"
	AuditEventSessionFinalized AuditEventType = "audit.session.finalized"
)

// Outbox publish statuses for AuditEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
