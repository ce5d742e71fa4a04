package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/mmdatafocus/card_audit_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func registerAuditRoutes(rg *gin.RouterGroup) {
	rg.GET("/active", getActiveAuditHandler())
	rg.POST("/start", startAuditHandler())
	rg.GET("/:id/stats", auditStatsHandler())
	rg.GET("/:id/items", listAuditItemsHandler())
	rg.PUT("/:id/item/:itemId", updateAuditItemHandler())
	rg.POST("/:id/item/:itemId/swap-foil", swapFoilHandler())
	rg.POST("/:id/items/batch-update", batchUpdateAuditItemsHandler())
	rg.POST("/:id/items/add", addAuditItemHandler())
	rg.POST("/:id/section/review", reviewSectionHandler())
	rg.POST("/:id/cancel", cancelAuditHandler())
	rg.POST("/:id/finalize", finalizeAuditHandler())
	rg.GET("/:id/report.xlsx", auditReportHandler())
	rg.GET("/:id/events", auditEventsHandler())
}

// writeAuditError maps engine errors onto HTTP statuses. Unknown errors are logged and hidden.
func writeAuditError(c *gin.Context, funcName string, err error) {
	var active *models.ActiveSessionError
	switch {
	case errors.As(err, &active):
		c.JSON(http.StatusConflict, gin.H{"error": models.ErrActiveSessionExists.Error(), "session": active.Session})
	case errors.Is(err, models.ErrActiveSessionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrSiblingNotFound), errors.Is(err, models.ErrSnapshotInconsistent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		config.LogError(config.GetLogger(), "AuditHandlers", funcName, c.Request.URL.Path, nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
	}
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
}

// ownerFromRequest is safe after RequireOwner.
func ownerFromRequest(c *gin.Context) string {
	ownerId, _ := utils.GetOwnerIdFromContext(c.Request.Context())
	return ownerId
}

func pathInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func getActiveAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := models.GetActiveAuditSession(c.Request.Context(), ownerFromRequest(c))
		if err != nil {
			writeAuditError(c, "getActiveAuditHandler", err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func startAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewAuditSession
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "audit.start")
		defer span.End()
		span.SetAttributes(attribute.String("audit.scope", string(req.Scope)))

		session, err := models.StartAuditSession(ctx, ownerFromRequest(c), &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeAuditError(c, "startAuditHandler", err)
			return
		}
		span.SetAttributes(attribute.Int("audit.session_id", session.ID))
		c.JSON(http.StatusCreated, session)
	}
}

func auditStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		stats, err := models.GetAuditStats(c.Request.Context(), ownerFromRequest(c), sessionId)
		if err != nil {
			writeAuditError(c, "auditStatsHandler", err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func listAuditItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		var filter models.AuditItemFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			writeBindError(c, err)
			return
		}
		items, err := models.ListAuditItems(c.Request.Context(), ownerFromRequest(c), sessionId, &filter)
		if err != nil {
			writeAuditError(c, "listAuditItemsHandler", err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func updateAuditItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		itemId, ok := pathInt(c, "itemId")
		if !ok {
			return
		}
		var req models.SetAuditItemQuantityInput
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		item, err := models.SetAuditItemQuantity(c.Request.Context(), ownerFromRequest(c), sessionId, itemId, &req)
		if err != nil {
			writeAuditError(c, "updateAuditItemHandler", err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

type batchUpdateRequest struct {
	Updates []models.AuditItemUpdate `json:"updates" binding:"required,min=1,dive"`
}

func batchUpdateAuditItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		var req batchUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		items, err := models.SetAuditItemQuantities(c.Request.Context(), ownerFromRequest(c), sessionId, req.Updates)
		if err != nil {
			writeAuditError(c, "batchUpdateAuditItemsHandler", err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func swapFoilHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		itemId, ok := pathInt(c, "itemId")
		if !ok {
			return
		}
		result, err := models.SwapAuditItemFoil(c.Request.Context(), ownerFromRequest(c), sessionId, itemId)
		if err != nil {
			writeAuditError(c, "swapFoilHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func addAuditItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		var req models.NewAuditItem
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		item, err := models.AddAuditItem(c.Request.Context(), ownerFromRequest(c), sessionId, &req)
		if err != nil {
			writeAuditError(c, "addAuditItemHandler", err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func reviewSectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		var req models.AuditSectionSelector
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		items, err := models.ReviewAuditSection(c.Request.Context(), ownerFromRequest(c), sessionId, &req)
		if err != nil {
			writeAuditError(c, "reviewSectionHandler", err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func cancelAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		if err := models.CancelAuditSession(c.Request.Context(), ownerFromRequest(c), sessionId); err != nil {
			writeAuditError(c, "cancelAuditHandler", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func finalizeAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "audit.finalize")
		defer span.End()
		span.SetAttributes(attribute.Int("audit.session_id", sessionId))

		result, err := workflow.FinalizeAuditSession(ctx, ownerFromRequest(c), sessionId)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeAuditError(c, "finalizeAuditHandler", err)
			return
		}
		span.SetAttributes(
			attribute.Int("audit.synced_count", result.SyncedCount),
			attribute.Int("audit.unsynced_count", len(result.UnsyncedReport)),
		)
		c.JSON(http.StatusOK, result)
	}
}

func auditEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		events, err := models.GetAuditEventStatuses(c.Request.Context(), ownerFromRequest(c), sessionId)
		if err != nil {
			writeAuditError(c, "auditEventsHandler", err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id" binding:"required,min=1"`
}

// outboxReplayHandler re-queues a DEAD/FAILED audit event (admin only).
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}

		now := time.Now().UTC()
		res := config.GetDB().WithContext(c.Request.Context()).
			Model(&models.AuditEventRecord{}).
			Where("id = ? AND publish_status IN ?", req.RecordId,
				[]string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed}).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"publish_attempts":   0,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			})
		if res.Error != nil {
			writeAuditError(c, "outboxReplayHandler", res.Error)
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		config.GetLogger().WithFields(logrus.Fields{
			"field":     "outboxReplay",
			"record_id": req.RecordId,
		}).Warn("audit event re-queued by admin")

		c.JSON(http.StatusOK, gin.H{
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}
