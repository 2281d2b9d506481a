// Package db holds the versioned SQL migrations. They are embedded so the
// migrate binary, the server's auto-migrate step and the audit ledger's
// runtime guard all apply the same DDL.
package db

import (
	"embed"
	"fmt"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the files.
const MigrationsDir = "migrations"

const ledgerMigration = "migrations/000002_audit_ledger.up.sql"

// LedgerDDL returns the idempotent DDL that provisions the audit ledger table,
// its indexes and its immutability triggers.
func LedgerDDL() (string, error) {
	b, err := Migrations.ReadFile(ledgerMigration)
	if err != nil {
		return "", fmt.Errorf("db.LedgerDDL: %w", err)
	}
	return string(b), nil
}
