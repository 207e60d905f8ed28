package database

import (
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=fixnearby dbname=fixnearby sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	if err != nil {
		t.Fatalf("open dry run db: %v", err)
	}
	return db
}

func TestCheckConstraintSQLHasNoBindVars(t *testing.T) {
	db := dryRunDB(t)

	sql := checkConstraintSQL("service_requests", "chk_service_requests_status", "status", requestStatuses())
	stmt := db.Exec(sql).Statement

	if len(stmt.Vars) != 0 {
		t.Errorf("DDL must not carry bind vars, got %d", len(stmt.Vars))
	}
	got := stmt.SQL.String()
	if strings.ContainsAny(got, "$?") {
		t.Errorf("DDL contains placeholders: %s", got)
	}
	want := `ALTER TABLE "service_requests" ADD CONSTRAINT "chk_service_requests_status" CHECK ("status" IN ('requested', 'pending_quote', `
	if !strings.HasPrefix(got, want) {
		t.Errorf("unexpected DDL:\n got %s\nwant prefix %s", got, want)
	}
	if !strings.HasSuffix(got, `'rejected', 'cancelled'))`) {
		t.Errorf("expected every status in the list, got %s", got)
	}
}

func TestCheckConstraintSQLQuotesValues(t *testing.T) {
	got := checkConstraintSQL("payments", "chk_payments_status", "status", []string{"created", "it's"})
	if !strings.Contains(got, `('created', 'it''s')`) {
		t.Errorf("values must be quoted literals, got %s", got)
	}
}
