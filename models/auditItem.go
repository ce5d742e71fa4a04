package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"gorm.io/gorm"
)

// AuditItem is one (printing, finish, container) line of a session.
//
// ExpectedQty is the snapshot baseline and is never updated.
// ScannedQty is nil iff ReviewState is pending.
type AuditItem struct {
	ID              int         `gorm:"primary_key" json:"id"`
	SessionId       int         `gorm:"not null;index;index:idx_audit_items_container,priority:1" json:"session_id"`
	ScryfallId      string      `gorm:"size:64;not null" json:"scryfall_id"`
	Name            string      `gorm:"size:255;not null" json:"name"`
	SetCode         string      `gorm:"size:16" json:"set_code"`
	CollectorNumber string      `gorm:"size:32" json:"collector_number"`
	Finish          CardFinish  `gorm:"size:20;not null;default:'nonfoil'" json:"finish"`
	DeckId          *string     `gorm:"size:36;index:idx_audit_items_container,priority:2" json:"deck_id"`
	GroupKey        string      `gorm:"size:32;index:idx_audit_items_container,priority:3" json:"group"`
	ExpectedQty     int         `gorm:"not null;default:0" json:"expected_qty"`
	ScannedQty      *int        `json:"scanned_qty"`
	ReviewState     ReviewState `gorm:"size:20;not null;default:'pending';index" json:"review_state"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item *AuditItem) Key() CardKey {
	return CardKey{ScryfallId: item.ScryfallId, Finish: item.Finish, DeckId: item.DeckId}
}

// ContainerKey orders deck containers before loose groups.
func (item *AuditItem) ContainerKey() string {
	if item.DeckId != nil {
		return "deck:" + *item.DeckId
	}
	return "group:" + item.GroupKey
}

// units the item currently accounts for; a pending item still holds its baseline
func (item *AuditItem) effectiveQty() int {
	if item.ScannedQty == nil {
		return item.ExpectedQty
	}
	return *item.ScannedQty
}

func deriveReviewState(scanned int, expected int) ReviewState {
	if scanned == expected {
		return ReviewStateMatched
	}
	return ReviewStateMismatched
}

func (item *AuditItem) setScanned(qty int) {
	item.ScannedQty = &qty
	item.ReviewState = deriveReviewState(qty, item.ExpectedQty)
}

func (item *AuditItem) resetToPending() {
	item.ScannedQty = nil
	item.ReviewState = ReviewStatePending
}

func saveReview(tx *gorm.DB, item *AuditItem) error {
	now := time.Now().UTC()
	if err := tx.Model(&AuditItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"scanned_qty":  item.ScannedQty,
		"review_state": item.ReviewState,
		"updated_at":   now,
	}).Error; err != nil {
		return err
	}
	item.UpdatedAt = now
	return nil
}

func findAuditItem(ctx context.Context, tx *gorm.DB, sessionId int, itemId int) (*AuditItem, error) {
	var item AuditItem
	err := tx.WithContext(ctx).Where("id = ? AND session_id = ?", itemId, sessionId).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// scopes q to one container; deckId nil selects the loose group
func whereContainer(q *gorm.DB, deckId *string, group string) *gorm.DB {
	if deckId != nil {
		return q.Where("deck_id = ?", *deckId)
	}
	return q.Where("deck_id IS NULL AND group_key = ?", group)
}

type AuditItemFilter struct {
	DeckId string      `form:"deckId"`
	Group  string      `form:"group"`
	State  ReviewState `form:"state"`
}

// ListAuditItems returns the items of any session owned by ownerId, ordered by name then id.
func ListAuditItems(ctx context.Context, ownerId string, sessionId int, filter *AuditItemFilter) ([]AuditItem, error) {
	session, err := GetAuditSession(ctx, ownerId, sessionId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	q := db.WithContext(ctx).Where("session_id = ?", session.ID)
	if filter != nil {
		if filter.DeckId != "" {
			q = q.Where("deck_id = ?", filter.DeckId)
		}
		if filter.Group != "" {
			q = q.Where("deck_id IS NULL AND group_key = ?", strings.ToUpper(strings.TrimSpace(filter.Group)))
		}
		if filter.State != "" {
			if !filter.State.IsValid() {
				return nil, invalidInput("unknown review state " + string(filter.State))
			}
			q = q.Where("review_state = ?", filter.State)
		}
	}

	items := make([]AuditItem, 0)
	if err := q.Order("name, id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

type SetAuditItemQuantityInput struct {
	Quantity *int  `json:"quantity" binding:"omitempty,min=0"`
	Reviewed *bool `json:"reviewed"`
}

// SetAuditItemQuantity records a physical count for one item.
//
// Reviewed false puts the item back to pending. Otherwise the state is derived
// from quantity; a missing quantity with reviewed true confirms the current count.
func SetAuditItemQuantity(ctx context.Context, ownerId string, sessionId int, itemId int, input *SetAuditItemQuantityInput) (*AuditItem, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}
	if input == nil || (input.Quantity == nil && input.Reviewed == nil) {
		return nil, invalidInput("quantity or reviewed is required")
	}
	if input.Quantity != nil && *input.Quantity < 0 {
		return nil, invalidInput("quantity must not be negative")
	}

	var item *AuditItem
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockMutableSession(ctx, tx, ownerId, sessionId); err != nil {
			return err
		}
		var err error
		item, err = findAuditItem(ctx, tx, sessionId, itemId)
		if err != nil {
			return err
		}
		applyQuantity(item, input)
		return saveReview(tx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func applyQuantity(item *AuditItem, input *SetAuditItemQuantityInput) {
	if input.Reviewed != nil && !*input.Reviewed {
		item.resetToPending()
		return
	}
	if input.Quantity != nil {
		item.setScanned(*input.Quantity)
		return
	}
	item.setScanned(item.effectiveQty())
}

type AuditItemUpdate struct {
	ItemId int `json:"itemId" binding:"required"`
	SetAuditItemQuantityInput
}

// SetAuditItemQuantities applies several updates atomically; any failure leaves every item unchanged.
func SetAuditItemQuantities(ctx context.Context, ownerId string, sessionId int, updates []AuditItemUpdate) ([]AuditItem, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, invalidInput("updates are required")
	}
	for i := range updates {
		u := &updates[i].SetAuditItemQuantityInput
		if u.Quantity == nil && u.Reviewed == nil {
			return nil, invalidInput("quantity or reviewed is required")
		}
		if u.Quantity != nil && *u.Quantity < 0 {
			return nil, invalidInput("quantity must not be negative")
		}
	}

	items := make([]AuditItem, 0, len(updates))
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockMutableSession(ctx, tx, ownerId, sessionId); err != nil {
			return err
		}
		for i := range updates {
			item, err := findAuditItem(ctx, tx, sessionId, updates[i].ItemId)
			if err != nil {
				return err
			}
			applyQuantity(item, &updates[i].SetAuditItemQuantityInput)
			if err := saveReview(tx, item); err != nil {
				return err
			}
			items = append(items, *item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

type FoilSwapResult struct {
	From AuditItem `json:"from"`
	To   AuditItem `json:"to"`
}

// SwapAuditItemFoil moves one unit from the item to its opposite-finish sibling
// in the same container. The two rows are written in one transaction so the
// combined count never changes.
func SwapAuditItemFoil(ctx context.Context, ownerId string, sessionId int, itemId int) (*FoilSwapResult, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}

	var result FoilSwapResult
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockMutableSession(ctx, tx, ownerId, sessionId); err != nil {
			return err
		}
		from, err := findAuditItem(ctx, tx, sessionId, itemId)
		if err != nil {
			return err
		}
		opposite, ok := from.Finish.Opposite()
		if !ok {
			return ErrSiblingNotFound
		}

		var to AuditItem
		q := tx.Where("session_id = ? AND scryfall_id = ? AND finish = ? AND id <> ?", sessionId, from.ScryfallId, opposite, from.ID)
		err = whereContainer(q, from.DeckId, from.GroupKey).Order("id").First(&to).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSiblingNotFound
			}
			return err
		}

		units := from.effectiveQty()
		if units <= 0 {
			return invalidState("no units left to move")
		}
		sibling := to.effectiveQty()
		from.setScanned(units - 1)
		to.setScanned(sibling + 1)

		if err := saveReview(tx, from); err != nil {
			return err
		}
		if err := saveReview(tx, &to); err != nil {
			return err
		}
		result = FoilSwapResult{From: *from, To: to}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type AuditSectionSelector struct {
	DeckId *string `json:"deckId"`
	Group  string  `json:"group"`
}

// ReviewAuditSection marks every pending item of one container as matched at its
// expected quantity. Reviewed items are left alone. Returns the items it changed.
func ReviewAuditSection(ctx context.Context, ownerId string, sessionId int, selector *AuditSectionSelector) ([]AuditItem, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}
	if selector == nil {
		return nil, invalidInput("deckId or group is required")
	}
	deckId := selector.DeckId
	if deckId != nil && strings.TrimSpace(*deckId) == "" {
		deckId = nil
	}
	group := strings.ToUpper(strings.TrimSpace(selector.Group))
	if deckId == nil && group == "" {
		return nil, invalidInput("deckId or group is required")
	}

	items := make([]AuditItem, 0)
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockMutableSession(ctx, tx, ownerId, sessionId); err != nil {
			return err
		}
		var ids []int
		q := tx.Model(&AuditItem{}).Where("session_id = ? AND review_state = ?", sessionId, ReviewStatePending)
		if err := whereContainer(q, deckId, group).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&AuditItem{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"scanned_qty":  gorm.Expr("expected_qty"),
			"review_state": ReviewStateMatched,
			"updated_at":   time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Order("name, id").Find(&items).Error
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

type NewAuditItem struct {
	ScryfallId      string     `json:"scryfallId" binding:"required"`
	Name            string     `json:"name" binding:"required"`
	SetCode         string     `json:"setCode"`
	CollectorNumber string     `json:"collectorNumber"`
	Finish          CardFinish `json:"finish" binding:"omitempty,oneof=nonfoil foil etched"`
	DeckId          *string    `json:"deckId"`
}

// AddAuditItem records one physically found card. An existing line for the
// same printing, finish and container is incremented; otherwise a new line with
// a zero baseline is created. Inventory is never touched.
func AddAuditItem(ctx context.Context, ownerId string, sessionId int, input *NewAuditItem) (*AuditItem, error) {
	if err := requireOwner(ownerId); err != nil {
		return nil, err
	}
	if input == nil || strings.TrimSpace(input.ScryfallId) == "" || strings.TrimSpace(input.Name) == "" {
		return nil, invalidInput("scryfallId and name are required")
	}
	if input.Finish != "" && !input.Finish.IsValid() {
		return nil, invalidInput("unknown finish " + string(input.Finish))
	}
	finish := NormalizeFinish(string(input.Finish))
	deckId := input.DeckId
	if deckId != nil && strings.TrimSpace(*deckId) == "" {
		deckId = nil
	}
	group := ""
	if deckId == nil {
		group = GroupKeyForSet(input.SetCode)
	}

	var item AuditItem
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockMutableSession(ctx, tx, ownerId, sessionId); err != nil {
			return err
		}
		if deckId != nil {
			if err := utils.ValidateResourceId[UserDeck](ctx, tx, ownerId, *deckId); err != nil {
				return err
			}
		}

		q := tx.Where("session_id = ? AND scryfall_id = ? AND finish = ?", sessionId, input.ScryfallId, finish)
		err := whereContainer(q, deckId, group).Order("id").First(&item).Error
		if err == nil {
			scanned := utils.DereferencePtr(item.ScannedQty) + 1
			item.setScanned(scanned)
			return saveReview(tx, &item)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		item = AuditItem{
			SessionId:       sessionId,
			ScryfallId:      input.ScryfallId,
			Name:            input.Name,
			SetCode:         input.SetCode,
			CollectorNumber: input.CollectorNumber,
			Finish:          finish,
			DeckId:          deckId,
			GroupKey:        group,
			ExpectedQty:     0,
		}
		item.setScanned(1)
		return tx.Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
