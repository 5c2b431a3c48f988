package database

import (
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestInitSchema(t *testing.T) {
	t.Run("runs every statement", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		for range schemaStatements {
			mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
		}

		assert.NoError(t, InitSchema(db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("surfaces the failing statement", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(".+").WillReturnError(assert.AnError)

		err = InitSchema(db)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "schema init failed")
	})
}

// Tombstoned accounts must not reserve their mobile or email forever, so
// both uniqueness guarantees live in partial indexes over live rows rather
// than column constraints. A column-level UNIQUE would make delete-then-
// recreate of the same mobile fail with a duplicate error.
func TestAgentUserUniquenessScopedToLiveRows(t *testing.T) {
	var tableDDL, mobileIdx, emailIdx string
	for _, stmt := range schemaStatements {
		switch {
		case strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS agent_users"):
			tableDDL = stmt
		case strings.Contains(stmt, "idx_agent_users_mobile"):
			mobileIdx = stmt
		case strings.Contains(stmt, "idx_agent_users_email"):
			emailIdx = stmt
		}
	}

	assert.NotEmpty(t, tableDDL)
	assert.NotContains(t, tableDDL, "UNIQUE")

	assert.NotEmpty(t, mobileIdx)
	assert.Contains(t, mobileIdx, "CREATE UNIQUE INDEX")
	assert.Contains(t, mobileIdx, "WHERE deleted_at IS NULL")

	assert.NotEmpty(t, emailIdx)
	assert.Contains(t, emailIdx, "WHERE deleted_at IS NULL")
}
