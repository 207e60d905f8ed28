package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fixnearby-server/config"
	"fixnearby-server/logging"
	"fixnearby-server/models"
)

// Connect opens the Postgres connection pool and runs migrations
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DB_URL is required. Set DB_URL to a valid Postgres URL")
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger:         NewLogger(time.Second),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL database: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logging.Info().Msg("Connected to database")

	if err := runMigrations(db.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logging.Info().Msg("Database migrations completed")
	return db, nil
}

// runMigrations creates or updates database tables
func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Repairer{},
		&models.Admin{},
		&models.ServiceRequest{},
		&models.Payment{},
		&models.Conversation{},
		&models.Message{},
		&models.Notification{},
		&models.RefreshToken{},
	); err != nil {
		return err
	}

	if err := migrateStatusConstraints(db); err != nil {
		return err
	}
	return migrateRepairerServicesIndex(db)
}

// migrateStatusConstraints keeps the stored statuses inside the known sets
func migrateStatusConstraints(db *gorm.DB) error {
	checks := []struct {
		table  interface{}
		name   string
		column string
		values []string
	}{
		{&models.ServiceRequest{}, "chk_service_requests_status", "status", requestStatuses()},
		{&models.Payment{}, "chk_payments_status", "status", paymentStatuses()},
	}

	for _, c := range checks {
		if db.Migrator().HasConstraint(c.table, c.name) {
			continue
		}
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(c.table); err != nil {
			return err
		}
		if err := db.Exec(checkConstraintSQL(stmt.Schema.Table, c.name, c.column, c.values)).Error; err != nil {
			return err
		}
		logging.Info().Str("constraint", c.name).Msg("Added status constraint")
	}
	return nil
}

// checkConstraintSQL renders the constraint with inline literals; Postgres
// does not accept bind parameters in DDL.
func checkConstraintSQL(table, name, column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = pq.QuoteLiteral(v)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IN (%s))",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(name), pq.QuoteIdentifier(column), strings.Join(quoted, ", "))
}

// migrateRepairerServicesIndex adds a GIN index over the offered services
func migrateRepairerServicesIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_repairers_services ON repairers USING GIN (services jsonb_path_ops)").Error
}

func requestStatuses() []string {
	out := make([]string, len(models.AllStatuses))
	for i, s := range models.AllStatuses {
		out[i] = string(s)
	}
	return out
}

func paymentStatuses() []string {
	out := make([]string, len(models.AllPaymentStatuses))
	for i, s := range models.AllPaymentStatuses {
		out[i] = string(s)
	}
	return out
}
