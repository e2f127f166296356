package sqlstore_test

import (
	"database/sql"
	"testing"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"

	"github.com/Dipanshu-verma/profilesync/adapters/sqlstore"
)

func ConnectForTesting(t *testing.T) *sql.DB {
	return truss.ConnectForTesting(t, sqlstore.MySQLSchema...)
}
