package models

import (
	"log"

	"github.com/mmdatafocus/card_audit_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := MigrateTables(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func MigrateTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&AuditSession{}, &AuditItem{},
		&UserCard{}, &UserDeck{},
		&AuditEventRecord{},
	)
}
