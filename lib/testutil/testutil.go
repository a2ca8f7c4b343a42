// Package testutil prepares the shared pieces package tests need.
package testutil

import (
	"database/sql"
	"strings"
	"testing"

	"tmfiling-backend/lib/telemetry"

	_ "modernc.org/sqlite"
)

type ServiceParams struct {
	// Name scopes the telemetry service name as "test:<name>".
	Name string
	// DbSchema is applied to a fresh in-memory database, no database is
	// opened when it is empty.
	DbSchema string
}

type ServiceResult struct {
	DB *sql.DB
}

// SetupService prepares telemetry for a test and, when a schema is given,
// an in-memory sqlite database that is closed with the test.
func SetupService(t testing.TB, params ServiceParams) ServiceResult {
	t.Helper()
	t.Cleanup(telemetry.SetupForTesting(t, "test:"+params.Name))

	if params.DbSchema == "" {
		return ServiceResult{}
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range strings.Split(params.DbSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err = db.Exec(stmt)
		if err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return ServiceResult{DB: db}
}
