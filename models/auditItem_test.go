package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/testutil"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLifecycle_ReviewAndStats(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	session := startCollection(t, ctx)
	items := itemsByName(t, ctx, session.ID)

	a, err := models.SetAuditItemQuantity(ctx, owner, session.ID, items["Alpha"].ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(4)})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStateMatched, a.ReviewState)
	b, err := models.SetAuditItemQuantity(ctx, owner, session.ID, items["Bravo"].ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStateMismatched, b.ReviewState)

	stats, err := models.GetAuditStats(ctx, owner, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Reviewed)
	assert.Equal(t, 1, stats.Verified)
	require.Len(t, stats.Mismatches, 1)
	assert.Equal(t, "Bravo", stats.Mismatches[0].Name)
	assert.Equal(t, 1, stats.Mismatches[0].Expected)
	assert.Equal(t, 0, stats.Mismatches[0].Scanned)
	assert.Equal(t, -1, stats.Mismatches[0].Diff)

	again, err := models.GetAuditStats(ctx, owner, session.ID)
	require.NoError(t, err)
	assert.Equal(t, stats, again)

	changed, err := models.ReviewAuditSection(ctx, owner, session.ID, &models.AuditSectionSelector{Group: "dom"})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "Charlie", changed[0].Name)
	assert.Equal(t, models.ReviewStateMatched, changed[0].ReviewState)
	require.NotNil(t, changed[0].ScannedQty)
	assert.Equal(t, 2, *changed[0].ScannedQty)

	stats, err = models.GetAuditStats(ctx, owner, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Reviewed)
	assert.Equal(t, 2, stats.Verified)
	assert.Equal(t, 100, stats.PercentComplete)
	assert.True(t, stats.Collection.Complete)
	require.Len(t, stats.Collection.Groups, 2)
	assert.Equal(t, "DOM", stats.Collection.Groups[0].Group)
	assert.Equal(t, "M11", stats.Collection.Groups[1].Group)
}

func TestSetAuditItemQuantity_Rules(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	session := startCollection(t, ctx)
	alpha := itemsByName(t, ctx, session.ID)["Alpha"]

	// reviewed alone confirms the baseline of a pending item
	item, err := models.SetAuditItemQuantity(ctx, owner, session.ID, alpha.ID, &models.SetAuditItemQuantityInput{Reviewed: utils.NewTrue()})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStateMatched, item.ReviewState)
	assert.Equal(t, 4, *item.ScannedQty)

	item, err = models.SetAuditItemQuantity(ctx, owner, session.ID, alpha.ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(6)})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStateMismatched, item.ReviewState)
	assert.Equal(t, 6, *item.ScannedQty)

	// and keeps a scanned count as it is
	item, err = models.SetAuditItemQuantity(ctx, owner, session.ID, alpha.ID, &models.SetAuditItemQuantityInput{Reviewed: utils.NewTrue()})
	require.NoError(t, err)
	assert.Equal(t, 6, *item.ScannedQty)

	// reviewed false wins over a quantity
	item, err = models.SetAuditItemQuantity(ctx, owner, session.ID, alpha.ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(4), Reviewed: utils.NewFalse()})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatePending, item.ReviewState)
	assert.Nil(t, item.ScannedQty)

	_, err = models.SetAuditItemQuantity(ctx, owner, session.ID, alpha.ID, &models.SetAuditItemQuantityInput{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = models.SetAuditItemQuantity(ctx, owner, session.ID, alpha.ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(-1)})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = models.SetAuditItemQuantity(ctx, owner, session.ID, 999999, &models.SetAuditItemQuantityInput{Quantity: intPtr(1)})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = models.SetAuditItemQuantity(ctx, "intruder", session.ID, alpha.ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(1)})
	assert.ErrorIs(t, err, models.ErrNotFound)

	stored := itemsByName(t, ctx, session.ID)["Alpha"]
	assert.Equal(t, models.ReviewStatePending, stored.ReviewState)
	assert.Equal(t, 4, stored.ExpectedQty)
}

func TestSetAuditItemQuantity_ReturnsStoredUpdatedAt(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	session := startCollection(t, ctx)
	alpha := itemsByName(t, ctx, session.ID)["Alpha"]

	item, err := models.SetAuditItemQuantity(ctx, owner, session.ID, alpha.ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(3)})
	require.NoError(t, err)
	assert.True(t, item.UpdatedAt.After(alpha.UpdatedAt))

	stored := itemsByName(t, ctx, session.ID)["Alpha"]
	assert.WithinDuration(t, stored.UpdatedAt, item.UpdatedAt, time.Millisecond)
}

func TestSetAuditItemQuantities_AllOrNothing(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	session := startCollection(t, ctx)
	items := itemsByName(t, ctx, session.ID)

	_, err := models.SetAuditItemQuantities(ctx, owner, session.ID, []models.AuditItemUpdate{
		{ItemId: items["Alpha"].ID, SetAuditItemQuantityInput: models.SetAuditItemQuantityInput{Quantity: intPtr(4)}},
		{ItemId: 424242, SetAuditItemQuantityInput: models.SetAuditItemQuantityInput{Quantity: intPtr(1)}},
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.ReviewStatePending, itemsByName(t, ctx, session.ID)["Alpha"].ReviewState)

	updated, err := models.SetAuditItemQuantities(ctx, owner, session.ID, []models.AuditItemUpdate{
		{ItemId: items["Alpha"].ID, SetAuditItemQuantityInput: models.SetAuditItemQuantityInput{Quantity: intPtr(4)}},
		{ItemId: items["Bravo"].ID, SetAuditItemQuantityInput: models.SetAuditItemQuantityInput{Quantity: intPtr(3)}},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, models.ReviewStateMatched, updated[0].ReviewState)
	assert.Equal(t, models.ReviewStateMismatched, updated[1].ReviewState)

	_, err = models.SetAuditItemQuantities(ctx, owner, session.ID, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func seedFoilPair(t *testing.T, ctx context.Context) (*models.AuditSession, models.AuditItem, models.AuditItem) {
	t.Helper()
	db := testutil.OpenDB(t)
	nonfoil := testutil.Card(owner, "sf-bolt", "Bolt", "m11", 3)
	foil := testutil.Card(owner, "sf-bolt", "Bolt", "m11", 1)
	foil.Finish = models.CardFinishFoil
	etched := testutil.Card(owner, "sf-ring", "Ring", "cmr", 1)
	etched.Finish = models.CardFinishEtched
	testutil.SeedCards(t, db, nonfoil, foil, etched)

	session := startCollection(t, ctx)
	items, err := models.ListAuditItems(ctx, owner, session.ID, &models.AuditItemFilter{Group: "m11"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	var nf, f models.AuditItem
	for _, item := range items {
		if item.Finish == models.CardFinishFoil {
			f = item
		} else {
			nf = item
		}
	}
	return session, nf, f
}

func TestSwapAuditItemFoil_ConservesUnits(t *testing.T) {
	ctx := context.Background()
	session, nonfoil, foil := seedFoilPair(t, ctx)

	result, err := models.SwapAuditItemFoil(ctx, owner, session.ID, nonfoil.ID)
	require.NoError(t, err)
	// pending items count at their baseline: 3 + 1 before, 2 + 2 after
	assert.Equal(t, 2, *result.From.ScannedQty)
	assert.Equal(t, 2, *result.To.ScannedQty)
	assert.Equal(t, models.ReviewStateMismatched, result.From.ReviewState)
	assert.Equal(t, models.ReviewStateMismatched, result.To.ReviewState)

	result, err = models.SwapAuditItemFoil(ctx, owner, session.ID, foil.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, *result.From.ScannedQty)
	assert.Equal(t, 3, *result.To.ScannedQty)
	assert.Equal(t, models.ReviewStateMatched, result.From.ReviewState)
	assert.Equal(t, models.ReviewStateMatched, result.To.ReviewState)
	assert.Equal(t, 4, *result.From.ScannedQty+*result.To.ScannedQty)

	_, err = models.SetAuditItemQuantity(ctx, owner, session.ID, foil.ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(0)})
	require.NoError(t, err)
	_, err = models.SwapAuditItemFoil(ctx, owner, session.ID, foil.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestSwapAuditItemFoil_NoSibling(t *testing.T) {
	ctx := context.Background()
	session, _, _ := seedFoilPair(t, ctx)

	ring, err := models.ListAuditItems(ctx, owner, session.ID, &models.AuditItemFilter{Group: "CMR"})
	require.NoError(t, err)
	require.Len(t, ring, 1)
	_, err = models.SwapAuditItemFoil(ctx, owner, session.ID, ring[0].ID)
	assert.ErrorIs(t, err, models.ErrSiblingNotFound)

	alone, err := models.AddAuditItem(ctx, owner, session.ID, &models.NewAuditItem{ScryfallId: "sf-solo", Name: "Solo", SetCode: "m11"})
	require.NoError(t, err)
	_, err = models.SwapAuditItemFoil(ctx, owner, session.ID, alone.ID)
	assert.ErrorIs(t, err, models.ErrSiblingNotFound)
}

func TestReviewAuditSection_SkipsReviewed(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	session := startCollection(t, ctx)
	items := itemsByName(t, ctx, session.ID)
	_, err := models.SetAuditItemQuantity(ctx, owner, session.ID, items["Bravo"].ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(0)})
	require.NoError(t, err)

	changed, err := models.ReviewAuditSection(ctx, owner, session.ID, &models.AuditSectionSelector{Group: "M11"})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "Alpha", changed[0].Name)

	after := itemsByName(t, ctx, session.ID)
	assert.Equal(t, models.ReviewStateMismatched, after["Bravo"].ReviewState)
	assert.Equal(t, models.ReviewStatePending, after["Charlie"].ReviewState)

	changed, err = models.ReviewAuditSection(ctx, owner, session.ID, &models.AuditSectionSelector{Group: "M11"})
	require.NoError(t, err)
	assert.Empty(t, changed)

	_, err = models.ReviewAuditSection(ctx, owner, session.ID, &models.AuditSectionSelector{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestReviewAuditSection_Deck(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	deck := models.UserDeck{OwnerId: owner, Name: "Tempo", Colors: "UR"}
	require.NoError(t, db.Create(&deck).Error)
	inDeck := testutil.Card(owner, "sf-alpha", "Alpha", "m11", 2)
	inDeck.DeckId = &deck.ID
	testutil.SeedCards(t, db, inDeck)
	session := startCollection(t, ctx)

	changed, err := models.ReviewAuditSection(ctx, owner, session.ID, &models.AuditSectionSelector{DeckId: &deck.ID})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, deck.ID, *changed[0].DeckId)
	assert.Equal(t, 2, *changed[0].ScannedQty)

	stats, err := models.GetAuditStats(ctx, owner, session.ID)
	require.NoError(t, err)
	require.Len(t, stats.Decks, 1)
	assert.Equal(t, "Tempo", stats.Decks[0].Name)
	assert.Equal(t, "UR", stats.Decks[0].Colors)
	assert.True(t, stats.Decks[0].Complete)
	assert.False(t, stats.Collection.Complete)
}

func TestAddAuditItem(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	before := testutil.Inventory(t, db, owner)
	session := startCollection(t, ctx)

	// existing pending line: first find counts from zero
	item, err := models.AddAuditItem(ctx, owner, session.ID, &models.NewAuditItem{ScryfallId: "sf-alpha", Name: "Alpha", SetCode: "m11"})
	require.NoError(t, err)
	assert.Equal(t, itemsByName(t, ctx, session.ID)["Alpha"].ID, item.ID)
	assert.Equal(t, 1, *item.ScannedQty)
	assert.Equal(t, models.ReviewStateMismatched, item.ReviewState)

	item, err = models.AddAuditItem(ctx, owner, session.ID, &models.NewAuditItem{ScryfallId: "sf-alpha", Name: "Alpha", SetCode: "m11"})
	require.NoError(t, err)
	assert.Equal(t, 2, *item.ScannedQty)

	found, err := models.AddAuditItem(ctx, owner, session.ID, &models.NewAuditItem{ScryfallId: "sf-echo", Name: "Echo", SetCode: "znr", Finish: models.CardFinishFoil})
	require.NoError(t, err)
	assert.Equal(t, 0, found.ExpectedQty)
	assert.Equal(t, 1, *found.ScannedQty)
	assert.Equal(t, "ZNR", found.GroupKey)
	assert.Equal(t, models.CardFinishFoil, found.Finish)

	missing := "no-such-deck"
	_, err = models.AddAuditItem(ctx, owner, session.ID, &models.NewAuditItem{ScryfallId: "sf-echo", Name: "Echo", DeckId: &missing})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = models.AddAuditItem(ctx, owner, session.ID, &models.NewAuditItem{Name: "Echo"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = models.AddAuditItem(ctx, owner, session.ID, &models.NewAuditItem{ScryfallId: "sf-echo", Name: "Echo", Finish: "gilded"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	assert.Equal(t, before, testutil.Inventory(t, db, owner))
}

func TestListAuditItems_Filters(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	seedABC(t, db)
	session := startCollection(t, ctx)
	items := itemsByName(t, ctx, session.ID)
	_, err := models.SetAuditItemQuantity(ctx, owner, session.ID, items["Bravo"].ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(0)})
	require.NoError(t, err)

	mismatched, err := models.ListAuditItems(ctx, owner, session.ID, &models.AuditItemFilter{State: models.ReviewStateMismatched})
	require.NoError(t, err)
	require.Len(t, mismatched, 1)
	assert.Equal(t, "Bravo", mismatched[0].Name)

	_, err = models.ListAuditItems(ctx, owner, session.ID, &models.AuditItemFilter{State: "skipped"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

type brokenDeckLabels struct{ models.GormDeckCatalog }

func (brokenDeckLabels) DeckLabels(ctx context.Context, ownerId string, deckIds []string) (map[string]models.DeckLabel, error) {
	return nil, errors.New("catalog down")
}

func TestGetAuditStats_DeckLabelsUnavailable(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	deck := testutil.SeedDeck(t, db, owner, "Tempo")
	inDeck := testutil.Card(owner, "sf-alpha", "Alpha", "m11", 2)
	inDeck.DeckId = &deck.ID
	testutil.SeedCards(t, db, inDeck)
	session := startCollection(t, ctx)

	prev := models.SetDeckCatalog(brokenDeckLabels{})
	t.Cleanup(func() { models.SetDeckCatalog(prev) })

	stats, err := models.GetAuditStats(ctx, owner, session.ID)
	require.NoError(t, err)
	require.Len(t, stats.Decks, 1)
	assert.Equal(t, deck.ID, stats.Decks[0].Name)
	assert.Empty(t, stats.Decks[0].Colors)
	assert.Equal(t, 1, stats.Total)
}
