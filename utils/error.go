package utils

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrorRecordNotFound = errors.New("record not found")

// IsDuplicateKeyError reports a unique index violation on either supported driver.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	// modernc.org/sqlite does not go through the gorm translator
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
