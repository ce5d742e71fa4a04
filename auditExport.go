package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/mmdatafocus/card_audit_backend/workflow"
	"github.com/xuri/excelize/v2"
)

const reportSheet = "Unsynced"

var reportHeadings = []string{
	"Name", "Set", "Number", "Finish", "Container", "State", "Expected", "Scanned", "Diff",
}

// buildAuditReport renders the unsynced lines of a session as one sheet.
// The caller owns the returned file; it is closed here on error.
func buildAuditReport(session *models.AuditSession, rows []workflow.UnsyncedItem) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := writeAuditReport(f, session, rows); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func writeAuditReport(f *excelize.File, session *models.AuditSession, rows []workflow.UnsyncedItem) error {
	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return err
	}

	for i, h := range reportHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(reportSheet, cell, h); err != nil {
			return err
		}
	}

	for r, row := range rows {
		container := row.Group
		if row.DeckId != nil {
			container = "deck " + *row.DeckId
		}
		values := []interface{}{
			row.Name,
			row.SetCode,
			row.CollectorNumber,
			string(row.Finish),
			container,
			string(row.ReviewState),
			row.Expected,
			nilOrValue(row.Scanned),
			nilOrValue(row.Diff),
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
			return err
		}
	}

	// a trailing summary row keeps the session identity with the file
	summary, _ := excelize.CoordinatesToCellName(1, len(rows)+3)
	if err := f.SetCellValue(reportSheet, summary, fmt.Sprintf("session %d (%s %s, %s)",
		session.ID, session.Scope, utils.DereferencePtr(session.ScopeRef), session.Status)); err != nil {
		return err
	}
	return nil
}

func nilOrValue(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func auditReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathInt(c, "id")
		if !ok {
			return
		}
		session, rows, err := workflow.GetUnsyncedReport(c.Request.Context(), ownerFromRequest(c), sessionId)
		if err != nil {
			writeAuditError(c, "auditReportHandler", err)
			return
		}
		f, err := buildAuditReport(session, rows)
		if err != nil {
			writeAuditError(c, "auditReportHandler", err)
			return
		}
		defer f.Close()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=audit-%d.xlsx", session.ID))
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}
