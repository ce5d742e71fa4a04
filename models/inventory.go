package models

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/card_audit_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserCard is one physical stack of a printing in a user's collection.
// A key (scryfall_id, finish, deck_id) may be spread over several rows; counts are summed.
type UserCard struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerId         string     `gorm:"size:64;not null;index:idx_user_cards_owner_key,priority:1" json:"owner_id"`
	DeckId          *string    `gorm:"size:36;index;index:idx_user_cards_owner_key,priority:4" json:"deck_id"`
	ScryfallId      string     `gorm:"size:64;not null;index:idx_user_cards_owner_key,priority:2" json:"scryfall_id"`
	Name            string     `gorm:"size:255;not null" json:"name"`
	SetCode         string     `gorm:"size:16" json:"set_code"`
	CollectorNumber string     `gorm:"size:32" json:"collector_number"`
	Finish          CardFinish `gorm:"size:20;not null;default:'nonfoil';index:idx_user_cards_owner_key,priority:3" json:"finish"`
	Count           int        `gorm:"not null;default:1" json:"count"`
	LastAuditedAt   *time.Time `json:"last_audited_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *UserCard) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Finish == "" {
		c.Finish = CardFinishNonfoil
	}
	return nil
}

// CardKey identifies a printing in a container. DeckId nil means loose.
type CardKey struct {
	ScryfallId string
	Finish     CardFinish
	DeckId     *string
}

func (k CardKey) String() string {
	deck := ""
	if k.DeckId != nil {
		deck = *k.DeckId
	}
	return k.ScryfallId + "|" + string(k.Finish) + "|" + deck
}

// CardCount is the summed quantity of one CardKey plus its display metadata.
type CardCount struct {
	CardKey
	Name            string
	SetCode         string
	CollectorNumber string
	Count           int
}

// InventoryStore is the authoritative card store. Both calls run inside the caller's transaction.
type InventoryStore interface {
	ReadCounts(ctx context.Context, tx *gorm.DB, ownerId string, scope AuditScope, scopeRef string) ([]CardCount, error)
	// ApplyCounts overwrites each key's total with Count. Count <= 0 removes the key.
	ApplyCounts(ctx context.Context, tx *gorm.DB, ownerId string, counts []CardCount) error
}

var inventoryStore InventoryStore = GormInventoryStore{}

func GetInventoryStore() InventoryStore {
	return inventoryStore
}

// SetInventoryStore swaps the store and returns the previous one.
func SetInventoryStore(s InventoryStore) InventoryStore {
	prev := inventoryStore
	if s == nil {
		s = GormInventoryStore{}
	}
	inventoryStore = s
	return prev
}

// GormInventoryStore keeps inventory in the user_cards table.
type GormInventoryStore struct{}

func (GormInventoryStore) ReadCounts(ctx context.Context, tx *gorm.DB, ownerId string, scope AuditScope, scopeRef string) ([]CardCount, error) {
	q := tx.WithContext(ctx).Model(&UserCard{}).Where("owner_id = ?", ownerId)
	switch scope {
	case AuditScopeCollection:
	case AuditScopeBinder:
		q = q.Where("deck_id IS NULL")
	case AuditScopeDeck:
		q = q.Where("deck_id = ?", scopeRef)
	case AuditScopeSet:
		q = q.Where("deck_id IS NULL").Where("LOWER(set_code) = ?", strings.ToLower(scopeRef))
	default:
		return nil, invalidInput("unknown scope " + string(scope))
	}

	var rows []UserCard
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}

	byKey := make(map[string]*CardCount)
	var order []string
	for _, row := range rows {
		key := CardKey{ScryfallId: row.ScryfallId, Finish: NormalizeFinish(string(row.Finish)), DeckId: row.DeckId}
		k := key.String()
		cc, ok := byKey[k]
		if !ok {
			cc = &CardCount{
				CardKey:         key,
				Name:            row.Name,
				SetCode:         row.SetCode,
				CollectorNumber: row.CollectorNumber,
			}
			byKey[k] = cc
			order = append(order, k)
		}
		cc.Count += row.Count
	}

	counts := make([]CardCount, 0, len(order))
	for _, k := range order {
		if cc := byKey[k]; cc.Count > 0 {
			counts = append(counts, *cc)
		}
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Name != counts[j].Name {
			return counts[i].Name < counts[j].Name
		}
		return counts[i].CardKey.String() < counts[j].CardKey.String()
	})
	return counts, nil
}

func (GormInventoryStore) ApplyCounts(ctx context.Context, tx *gorm.DB, ownerId string, counts []CardCount) error {
	now := time.Now().UTC()
	for _, cc := range counts {
		q := tx.WithContext(ctx).
			Where("owner_id = ? AND scryfall_id = ?", ownerId, cc.ScryfallId).
			Where("finish IN ?", finishValues(cc.Finish))
		if cc.DeckId == nil {
			q = q.Where("deck_id IS NULL")
		} else {
			q = q.Where("deck_id = ?", *cc.DeckId)
		}
		if config.IsMySQL(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var rows []UserCard
		if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
			return err
		}

		if cc.Count <= 0 {
			if len(rows) == 0 {
				continue
			}
			if err := tx.WithContext(ctx).Where("id IN ?", userCardIds(rows)).Delete(&UserCard{}).Error; err != nil {
				return err
			}
			continue
		}

		if len(rows) == 0 {
			card := UserCard{
				OwnerId:         ownerId,
				DeckId:          cc.DeckId,
				ScryfallId:      cc.ScryfallId,
				Name:            cc.Name,
				SetCode:         cc.SetCode,
				CollectorNumber: cc.CollectorNumber,
				Finish:          cc.Finish,
				Count:           cc.Count,
				LastAuditedAt:   &now,
			}
			if err := tx.WithContext(ctx).Create(&card).Error; err != nil {
				return err
			}
			continue
		}

		total := 0
		for _, r := range rows {
			total += r.Count
		}
		if total == cc.Count {
			// value unchanged; keep the stacks as they are
			if err := tx.WithContext(ctx).Model(&UserCard{}).Where("id IN ?", userCardIds(rows)).
				Update("last_audited_at", now).Error; err != nil {
				return err
			}
			continue
		}

		// collapse into the oldest stack
		if err := tx.WithContext(ctx).Model(&UserCard{}).Where("id = ?", rows[0].ID).Updates(map[string]interface{}{
			"count":           cc.Count,
			"last_audited_at": now,
		}).Error; err != nil {
			return err
		}
		if len(rows) > 1 {
			if err := tx.WithContext(ctx).Where("id IN ?", userCardIds(rows[1:])).Delete(&UserCard{}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// nonfoil rows may carry a blank finish from older imports
func finishValues(f CardFinish) []string {
	if f == CardFinishNonfoil {
		return []string{string(CardFinishNonfoil), ""}
	}
	return []string{string(f)}
}

func userCardIds(rows []UserCard) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

// CountInventory returns the current total for key (test and ops helper).
func CountInventory(ctx context.Context, tx *gorm.DB, ownerId string, key CardKey) (int, error) {
	if tx == nil {
		tx = config.GetDB()
	}
	q := tx.WithContext(ctx).Model(&UserCard{}).
		Where("owner_id = ? AND scryfall_id = ?", ownerId, key.ScryfallId).
		Where("finish IN ?", finishValues(key.Finish))
	if key.DeckId == nil {
		q = q.Where("deck_id IS NULL")
	} else {
		q = q.Where("deck_id = ?", *key.DeckId)
	}
	var total int
	if err := q.Select("COALESCE(SUM(count), 0)").Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
