// Package testutil opens throwaway SQLite databases for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// OpenDB migrates a fresh SQLite file under t.TempDir() and installs it as the global DB
// until the test ends. Tests using it must not run in parallel.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "audit_test.db"))
	require.NoError(t, err)
	require.NoError(t, models.MigrateTables(db))

	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Card builds a loose nonfoil stack.
func Card(ownerId string, scryfallId string, name string, setCode string, count int) models.UserCard {
	return models.UserCard{
		OwnerId:         ownerId,
		ScryfallId:      scryfallId,
		Name:            name,
		SetCode:         setCode,
		CollectorNumber: "1",
		Finish:          models.CardFinishNonfoil,
		Count:           count,
	}
}

func SeedCards(t testing.TB, db *gorm.DB, cards ...models.UserCard) []models.UserCard {
	t.Helper()
	require.NoError(t, db.Create(&cards).Error)
	return cards
}

func SeedDeck(t testing.TB, db *gorm.DB, ownerId string, name string) models.UserDeck {
	t.Helper()
	deck := models.UserDeck{OwnerId: ownerId, Name: name}
	require.NoError(t, db.Create(&deck).Error)
	return deck
}

// Inventory returns every user_cards row of ownerId in a stable order.
func Inventory(t testing.TB, db *gorm.DB, ownerId string) []models.UserCard {
	t.Helper()
	var rows []models.UserCard
	require.NoError(t, db.Where("owner_id = ?", ownerId).Order("id").Find(&rows).Error)
	return rows
}
