package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"gorm.io/gorm"
)

type UserDeck struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerId   string    `gorm:"size:64;not null;index" json:"owner_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Colors    string    `gorm:"size:16" json:"colors"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *UserDeck) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// AfterSave drops the cached copy so renames show up in stats.
func (d *UserDeck) AfterSave(tx *gorm.DB) error {
	return utils.RemoveRedisItem[UserDeck](d.ID)
}

func (d *UserDeck) AfterDelete(tx *gorm.DB) error {
	return utils.RemoveRedisItem[UserDeck](d.ID)
}

// DeckCatalog resolves decks for snapshot validation and display names.
type DeckCatalog interface {
	// GetDeck returns ErrNotFound when the deck does not exist or belongs to someone else.
	GetDeck(ctx context.Context, tx *gorm.DB, ownerId string, deckId string) (*UserDeck, error)
	DeckLabels(ctx context.Context, ownerId string, deckIds []string) (map[string]DeckLabel, error)
}

// DeckLabel is the display part of a deck shown next to its rollup.
type DeckLabel struct {
	Name   string `json:"name"`
	Colors string `json:"colors"`
}

var deckCatalog DeckCatalog = GormDeckCatalog{}

func GetDeckCatalog() DeckCatalog {
	return deckCatalog
}

func SetDeckCatalog(c DeckCatalog) DeckCatalog {
	prev := deckCatalog
	if c == nil {
		c = GormDeckCatalog{}
	}
	deckCatalog = c
	return prev
}

// GormDeckCatalog reads user_decks, with a redis read-through cache for DeckLabels.
type GormDeckCatalog struct{}

func (GormDeckCatalog) GetDeck(ctx context.Context, tx *gorm.DB, ownerId string, deckId string) (*UserDeck, error) {
	if deckId == "" {
		return nil, ErrNotFound
	}
	return utils.FetchModel[UserDeck](ctx, tx, ownerId, deckId)
}

func (GormDeckCatalog) DeckLabels(ctx context.Context, ownerId string, deckIds []string) (map[string]DeckLabel, error) {
	labels := make(map[string]DeckLabel)
	var missing []string
	for _, id := range utils.UniqueSlice(deckIds) {
		cached, err := utils.RetrieveRedis[UserDeck](id)
		if err != nil || cached == nil || cached.OwnerId != ownerId {
			missing = append(missing, id)
			continue
		}
		labels[id] = DeckLabel{Name: cached.Name, Colors: cached.Colors}
	}
	if len(missing) == 0 {
		return labels, nil
	}

	decks, err := utils.FetchAllModels[UserDeck](ctx, nil, ownerId, "id IN ?", missing)
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger()
	for i := range decks {
		labels[decks[i].ID] = DeckLabel{Name: decks[i].Name, Colors: decks[i].Colors}
		if err := utils.StoreRedis(&decks[i], decks[i].ID); err != nil {
			config.LogError(logger, "DeckCatalog", "DeckLabels", "cache deck", decks[i].ID, err)
		}
	}
	return labels, nil
}

type NewUserDeck struct {
	Name   string `json:"name" binding:"required"`
	Colors string `json:"colors"`
}

func CreateUserDeck(ctx context.Context, tx *gorm.DB, ownerId string, input *NewUserDeck) (*UserDeck, error) {
	if ownerId == "" {
		return nil, errors.New("owner id is required")
	}
	if tx == nil {
		tx = config.GetDB()
	}
	deck := UserDeck{
		OwnerId: ownerId,
		Name:    input.Name,
		Colors:  input.Colors,
	}
	if err := tx.WithContext(ctx).Create(&deck).Error; err != nil {
		return nil, err
	}
	return &deck, nil
}
