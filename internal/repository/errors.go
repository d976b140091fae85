package repository

import (
	"errors"

	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/database"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// isUniqueViolation はどちらのドライバ経由でも一意制約違反を判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	var httpErr *database.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == pgUniqueViolation
	}
	return false
}
