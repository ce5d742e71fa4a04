package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/testutil"
	"github.com/mmdatafocus/card_audit_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const owner = "owner-1"

func intPtr(v int) *int { return &v }

type reviewed struct {
	session *models.AuditSession
	items   map[string]models.AuditItem
}

// runScenario starts a collection audit over Alpha x4, Bravo x1 (M11), Charlie x2 (DOM)
// and Delta x1 (ZNR), matches Alpha, miscounts Bravo as 0, section-reviews DOM and
// leaves Delta pending.
func runScenario(t *testing.T, ctx context.Context, db *gorm.DB) reviewed {
	t.Helper()
	testutil.SeedCards(t, db,
		testutil.Card(owner, "sf-alpha", "Alpha", "m11", 4),
		testutil.Card(owner, "sf-bravo", "Bravo", "m11", 1),
		testutil.Card(owner, "sf-charlie", "Charlie", "dom", 2),
		testutil.Card(owner, "sf-delta", "Delta", "znr", 1),
	)
	session, err := models.StartAuditSession(ctx, owner, &models.NewAuditSession{Scope: models.AuditScopeCollection})
	require.NoError(t, err)

	list, err := models.ListAuditItems(ctx, owner, session.ID, nil)
	require.NoError(t, err)
	items := map[string]models.AuditItem{}
	for _, item := range list {
		items[item.Name] = item
	}

	_, err = models.SetAuditItemQuantity(ctx, owner, session.ID, items["Alpha"].ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(4)})
	require.NoError(t, err)
	_, err = models.SetAuditItemQuantity(ctx, owner, session.ID, items["Bravo"].ID, &models.SetAuditItemQuantityInput{Quantity: intPtr(0)})
	require.NoError(t, err)
	_, err = models.ReviewAuditSection(ctx, owner, session.ID, &models.AuditSectionSelector{Group: "DOM"})
	require.NoError(t, err)

	return reviewed{session: session, items: items}
}

func count(t *testing.T, ctx context.Context, scryfallId string) int {
	t.Helper()
	total, err := models.CountInventory(ctx, nil, owner, models.CardKey{ScryfallId: scryfallId, Finish: models.CardFinishNonfoil})
	require.NoError(t, err)
	return total
}

func TestFinalizeAuditSession_WritesOnlyMatched(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	s := runScenario(t, ctx, db)

	// inventory drifts after the snapshot
	require.NoError(t, db.Model(&models.UserCard{}).Where("scryfall_id = ?", "sf-alpha").Update("count", 9).Error)
	require.NoError(t, db.Model(&models.UserCard{}).Where("scryfall_id = ?", "sf-bravo").Update("count", 7).Error)

	result, err := workflow.FinalizeAuditSession(ctx, owner, s.session.ID)
	require.NoError(t, err)
	assert.Equal(t, s.session.ID, result.SessionId)
	assert.Equal(t, 2, result.SyncedCount)

	// matched lines carry the verified baseline back
	assert.Equal(t, 4, count(t, ctx, "sf-alpha"))
	assert.Equal(t, 2, count(t, ctx, "sf-charlie"))
	// mismatched and pending lines are left alone
	assert.Equal(t, 7, count(t, ctx, "sf-bravo"))
	assert.Equal(t, 1, count(t, ctx, "sf-delta"))

	require.Len(t, result.UnsyncedReport, 2)
	byName := map[string]workflow.UnsyncedItem{}
	for _, u := range result.UnsyncedReport {
		byName[u.Name] = u
	}
	bravo := byName["Bravo"]
	assert.Equal(t, models.ReviewStateMismatched, bravo.ReviewState)
	require.NotNil(t, bravo.Diff)
	assert.Equal(t, -1, *bravo.Diff)
	delta := byName["Delta"]
	assert.Equal(t, models.ReviewStatePending, delta.ReviewState)
	assert.Nil(t, delta.Diff)

	session, err := models.GetAuditSession(ctx, owner, s.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusFinalized, session.Status)
	assert.NotNil(t, session.FinalizedAt)
	assert.Nil(t, session.ActiveOwnerId)

	active, err := models.GetActiveAuditSession(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, unsynced, err := workflow.GetUnsyncedReport(ctx, owner, s.session.ID)
	require.NoError(t, err)
	assert.Len(t, unsynced, 2)

	var events []models.AuditEventRecord
	require.NoError(t, db.Where("session_id = ?", s.session.ID).Order("id").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditEventSessionFinalized, events[1].EventType)
}

func TestFinalizeAuditSession_TerminalSessionRejectsEverything(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	s := runScenario(t, ctx, db)
	_, err := workflow.FinalizeAuditSession(ctx, owner, s.session.ID)
	require.NoError(t, err)

	id := s.session.ID
	alpha := s.items["Alpha"].ID
	_, err = workflow.FinalizeAuditSession(ctx, owner, id)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.ErrorIs(t, models.CancelAuditSession(ctx, owner, id), models.ErrInvalidState)
	_, err = models.SetAuditItemQuantity(ctx, owner, id, alpha, &models.SetAuditItemQuantityInput{Quantity: intPtr(1)})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = models.SetAuditItemQuantities(ctx, owner, id, []models.AuditItemUpdate{{ItemId: alpha, SetAuditItemQuantityInput: models.SetAuditItemQuantityInput{Quantity: intPtr(1)}}})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = models.SwapAuditItemFoil(ctx, owner, id, alpha)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = models.ReviewAuditSection(ctx, owner, id, &models.AuditSectionSelector{Group: "M11"})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = models.AddAuditItem(ctx, owner, id, &models.NewAuditItem{ScryfallId: "sf-x", Name: "X"})
	assert.ErrorIs(t, err, models.ErrInvalidState)

	// finalized sessions stay readable
	stats, err := models.GetAuditStats(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)

	// and a new session may start
	_, err = models.StartAuditSession(ctx, owner, &models.NewAuditSession{Scope: models.AuditScopeBinder})
	assert.NoError(t, err)
}

func TestFinalizeAuditSession_UnknownOrForeign(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	s := runScenario(t, ctx, db)

	_, err := workflow.FinalizeAuditSession(ctx, "intruder", s.session.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = workflow.FinalizeAuditSession(ctx, owner, 999999)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = workflow.FinalizeAuditSession(ctx, "", s.session.ID)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

// failingStore writes through to the real store and then fails.
type failingStore struct {
	models.GormInventoryStore
}

var errStoreDown = errors.New("inventory store unavailable")

func (s failingStore) ApplyCounts(ctx context.Context, tx *gorm.DB, ownerId string, counts []models.CardCount) error {
	if err := s.GormInventoryStore.ApplyCounts(ctx, tx, ownerId, counts); err != nil {
		return err
	}
	return errStoreDown
}

func TestFinalizeAuditSession_RollsBackOnStoreFailure(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	s := runScenario(t, ctx, db)
	require.NoError(t, db.Model(&models.UserCard{}).Where("scryfall_id = ?", "sf-alpha").Update("count", 9).Error)
	before := testutil.Inventory(t, db, owner)

	prev := models.SetInventoryStore(failingStore{})
	t.Cleanup(func() { models.SetInventoryStore(prev) })

	_, err := workflow.FinalizeAuditSession(ctx, owner, s.session.ID)
	require.ErrorIs(t, err, errStoreDown)

	assert.Equal(t, before, testutil.Inventory(t, db, owner))
	session, err := models.GetAuditSession(ctx, owner, s.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusActive, session.Status)

	// retry succeeds once the store is back
	models.SetInventoryStore(prev)
	result, err := workflow.FinalizeAuditSession(ctx, owner, s.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SyncedCount)
	assert.Equal(t, 4, count(t, ctx, "sf-alpha"))
}

func TestPartitionForSync(t *testing.T) {
	four := 4
	items := []models.AuditItem{
		{ID: 1, ExpectedQty: 4, ScannedQty: &four, ReviewState: models.ReviewStateMatched},
		{ID: 2, ExpectedQty: 2, ReviewState: models.ReviewStatePending},
		{ID: 3, ExpectedQty: 0, ScannedQty: &four, ReviewState: models.ReviewStateMismatched},
	}
	toSync, unsynced := workflow.PartitionForSync(items)
	require.Len(t, toSync, 1)
	assert.Equal(t, 1, toSync[0].ID)
	require.Len(t, unsynced, 2)
	assert.Nil(t, unsynced[0].Diff)
	assert.Equal(t, 4, *unsynced[1].Diff)
}
