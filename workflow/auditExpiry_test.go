package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/testutil"
	"github.com/mmdatafocus/card_audit_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireAuditSessions(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	testutil.SeedCards(t, db,
		testutil.Card(owner, "sf-alpha", "Alpha", "m11", 1),
		testutil.Card("owner-2", "sf-alpha", "Alpha", "m11", 1),
	)
	before := testutil.Inventory(t, db, owner)

	old, err := models.StartAuditSession(ctx, owner, &models.NewAuditSession{Scope: models.AuditScopeCollection})
	require.NoError(t, err)
	fresh, err := models.StartAuditSession(ctx, "owner-2", &models.NewAuditSession{Scope: models.AuditScopeCollection})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.AuditSession{}).Where("id = ?", old.ID).
		Update("expires_at", time.Now().UTC().Add(-time.Hour)).Error)

	now := time.Now().UTC()
	dry, err := workflow.ExpireAuditSessions(ctx, config.GetLogger(), now, 10, true)
	require.NoError(t, err)
	require.Len(t, dry.Expired, 1)
	assert.Equal(t, old.ID, dry.Expired[0].ID)
	assert.Equal(t, 0, dry.Cancelled)
	_, err = models.GetAuditSession(ctx, owner, old.ID)
	require.NoError(t, err)

	result, err := workflow.ExpireAuditSessions(ctx, config.GetLogger(), now, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, 0, result.Failed)

	_, err = models.GetAuditSession(ctx, owner, old.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = models.GetAuditSession(ctx, "owner-2", fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, before, testutil.Inventory(t, db, owner))
}
