package models

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

const unknownGroupKey = "UNKNOWN"

// GroupKeyForSet is the loose-card grouping key: the upper-cased set code.
func GroupKeyForSet(setCode string) string {
	code := strings.ToUpper(strings.TrimSpace(setCode))
	if code == "" {
		return unknownGroupKey
	}
	return code
}

// BuildAuditSnapshot reads the scoped inventory through the InventoryStore and
// returns one pending item per (printing, finish, container). Nothing is written.
//
// Must run in the same transaction that inserts the session so the items
// reflect a single point-in-time read.
func BuildAuditSnapshot(ctx context.Context, tx *gorm.DB, session *AuditSession) ([]AuditItem, error) {
	ref := session.ScopeRefValue()
	if session.Scope == AuditScopeDeck {
		if _, err := GetDeckCatalog().GetDeck(ctx, tx, session.OwnerId, ref); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, snapshotInconsistent("deck " + ref + " not found")
			}
			return nil, err
		}
	}

	counts, err := GetInventoryStore().ReadCounts(ctx, tx, session.OwnerId, session.Scope, ref)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, snapshotInconsistent("no cards in " + describeScope(session.Scope, ref))
	}

	items := make([]AuditItem, 0, len(counts))
	for _, cc := range counts {
		if cc.Count <= 0 {
			continue
		}
		item := AuditItem{
			SessionId:       session.ID,
			ScryfallId:      cc.ScryfallId,
			Name:            cc.Name,
			SetCode:         cc.SetCode,
			CollectorNumber: cc.CollectorNumber,
			Finish:          NormalizeFinish(string(cc.Finish)),
			DeckId:          cc.DeckId,
			ExpectedQty:     cc.Count,
			ReviewState:     ReviewStatePending,
		}
		if cc.DeckId == nil {
			item.GroupKey = GroupKeyForSet(cc.SetCode)
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, snapshotInconsistent("no cards in " + describeScope(session.Scope, ref))
	}
	return items, nil
}

func describeScope(scope AuditScope, ref string) string {
	if ref == "" {
		return string(scope)
	}
	return string(scope) + " " + ref
}
