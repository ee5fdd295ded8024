// Package repomanager hands out repositories bound to a database handle,
// so services can run the same repositories inside or outside a
// transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/telehealth/internal/dbx"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/records"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/users"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/versions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Records(db dbx.DBTX) records.Repository
	Versions(db dbx.DBTX) versions.Repository
}
