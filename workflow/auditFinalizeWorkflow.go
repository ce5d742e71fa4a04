package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"gorm.io/gorm"
)

// UnsyncedItem is a pending or mismatched line that finalize left for manual correction.
type UnsyncedItem struct {
	ItemId          int                `json:"item_id"`
	ScryfallId      string             `json:"scryfall_id"`
	Name            string             `json:"name"`
	SetCode         string             `json:"set_code"`
	CollectorNumber string             `json:"collector_number"`
	Finish          models.CardFinish  `json:"finish"`
	DeckId          *string            `json:"deck_id"`
	Group           string             `json:"group"`
	ReviewState     models.ReviewState `json:"review_state"`
	Expected        int                `json:"expected"`
	Scanned         *int               `json:"scanned"`
	// scanned - expected; nil while pending
	Diff *int `json:"diff"`
}

type FinalizeResult struct {
	SessionId      int            `json:"sessionId"`
	SyncedCount    int            `json:"syncedCount"`
	UnsyncedReport []UnsyncedItem `json:"unsyncedReport"`
}

// PartitionForSync splits items into the matched lines finalize writes back and the rest.
func PartitionForSync(items []models.AuditItem) (toSync []models.AuditItem, unsynced []UnsyncedItem) {
	unsynced = make([]UnsyncedItem, 0)
	for _, item := range items {
		if item.ReviewState == models.ReviewStateMatched && item.ScannedQty != nil && *item.ScannedQty == item.ExpectedQty {
			toSync = append(toSync, item)
			continue
		}
		unsynced = append(unsynced, NewUnsyncedItem(item))
	}
	return toSync, unsynced
}

func NewUnsyncedItem(item models.AuditItem) UnsyncedItem {
	u := UnsyncedItem{
		ItemId:          item.ID,
		ScryfallId:      item.ScryfallId,
		Name:            item.Name,
		SetCode:         item.SetCode,
		CollectorNumber: item.CollectorNumber,
		Finish:          item.Finish,
		DeckId:          item.DeckId,
		Group:           item.GroupKey,
		ReviewState:     item.ReviewState,
		Expected:        item.ExpectedQty,
		Scanned:         item.ScannedQty,
	}
	if item.ScannedQty != nil {
		diff := *item.ScannedQty - item.ExpectedQty
		u.Diff = &diff
	}
	return u
}

// FinalizeAuditSession writes every matched item's baseline back to the inventory store
// and retires the session, all in one transaction. Pending and mismatched items are only
// reported. On any failure nothing is written and the session stays active.
func FinalizeAuditSession(ctx context.Context, ownerId string, sessionId int) (*FinalizeResult, error) {
	if ownerId == "" {
		return nil, models.ErrInvalidInput
	}
	logger := config.GetLogger()
	release := AcquireAuditSessionLock(ctx, logger, sessionId)
	defer release()

	var result FinalizeResult
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := models.LockAuditSession(ctx, tx, ownerId, sessionId)
		if err != nil {
			return err
		}

		var items []models.AuditItem
		if err := tx.Where("session_id = ?", session.ID).Order("id").Find(&items).Error; err != nil {
			return err
		}
		toSync, unsynced := PartitionForSync(items)

		counts := make([]models.CardCount, 0, len(toSync))
		for _, item := range toSync {
			counts = append(counts, models.CardCount{
				CardKey:         item.Key(),
				Name:            item.Name,
				SetCode:         item.SetCode,
				CollectorNumber: item.CollectorNumber,
				Count:           item.ExpectedQty,
			})
		}
		if len(counts) > 0 {
			if err := models.GetInventoryStore().ApplyCounts(ctx, tx, ownerId, counts); err != nil {
				config.LogError(logger, "AuditFinalizeWorkflow", "FinalizeAuditSession", "apply counts", sessionId, err)
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.AuditSession{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
			"status":          models.AuditSessionStatusFinalized,
			"active_owner_id": nil,
			"finalized_at":    &now,
		}).Error; err != nil {
			return err
		}

		result = FinalizeResult{
			SessionId:      session.ID,
			SyncedCount:    len(toSync),
			UnsyncedReport: unsynced,
		}
		return models.PublishAuditEvent(ctx, tx, session, models.AuditEventSessionFinalized, map[string]interface{}{
			"synced_count":   result.SyncedCount,
			"unsynced_count": len(unsynced),
		})
	})
	if err != nil {
		return nil, err
	}

	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	config.LogSessionTransition(logger, ownerId, sessionId, cid, "finalized")
	return &result, nil
}

// GetUnsyncedReport rebuilds the unsynced lines of any session owned by ownerId (report export).
func GetUnsyncedReport(ctx context.Context, ownerId string, sessionId int) (*models.AuditSession, []UnsyncedItem, error) {
	session, err := models.GetAuditSession(ctx, ownerId, sessionId)
	if err != nil {
		return nil, nil, err
	}
	items, err := models.ListAuditItems(ctx, ownerId, sessionId, nil)
	if err != nil {
		return nil, nil, err
	}
	_, unsynced := PartitionForSync(items)
	return session, unsynced, nil
}
