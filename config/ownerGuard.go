package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/card_audit_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ownerColumn = "owner_id"

// OwnerGuardPlugin scopes queries/updates/deletes to the request's owner_id when
// the model has an owner_id column and the statement does not filter on it already.
//
// NOTE:
// - Raw SQL is not scoped. Those queries must include owner_id manually.
// - Ops bypass is explicit via context flags.
type OwnerGuardPlugin struct{}

func NewOwnerGuardPlugin() *OwnerGuardPlugin { return &OwnerGuardPlugin{} }

func (p *OwnerGuardPlugin) Name() string { return "owner_guard" }

func (p *OwnerGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("owner_guard:query", ownerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("owner_guard:row", ownerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("owner_guard:update", ownerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("owner_guard:delete", ownerGuardCallback); err != nil {
		return err
	}
	return nil
}

func ownerGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Schema == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil || shouldBypassOwnerScope(ctx) {
		return
	}
	ownerId := ownerIdFromContext(ctx)
	if ownerId == "" {
		return
	}
	if db.Statement.Schema.LookUpField(ownerColumn) == nil {
		return
	}
	if whereHasOwnerId(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: ownerColumn},
				Value:  ownerId,
			},
		},
	})
}

func ownerIdFromContext(ctx context.Context) string {
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyOwnerId); ok {
		return v
	}
	return ""
}

func shouldBypassOwnerScope(ctx context.Context) bool {
	if v, ok := appctx.GetBool(ctx, appctx.ContextKeySkipOwnerScope); ok && v {
		return true
	}
	if v, ok := appctx.GetBool(ctx, appctx.ContextKeyIsAdmin); ok && v {
		return true
	}
	return false
}

func whereHasOwnerId(c clause.Clause) bool {
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasOwnerId(e) {
			return true
		}
	}
	return false
}

func exprHasOwnerId(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsOwnerId(v.Column)
	case clause.Neq:
		return colIsOwnerId(v.Column)
	case clause.IN:
		return colIsOwnerId(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasOwnerId(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasOwnerId(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// best-effort for raw expressions
		return strings.Contains(strings.ToLower(v.SQL), ownerColumn)
	default:
		return false
	}
}

func colIsOwnerId(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, ownerColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, ownerColumn)
	default:
		return false
	}
}
