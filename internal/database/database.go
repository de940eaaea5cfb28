package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-admission/internal/config"
	"ms-admission/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects bun to the configured driver and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
		bunDB *bun.DB
	)
	switch cfg.Driver {
	case DriverPostgres, "":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN not set")
		}
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		sqldb, err = sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		sqldb.SetMaxOpenConns(1)
		bunDB = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := bunDB.PingContext(pingCtx); err != nil {
		_ = bunDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return bunDB, nil
}

// OpenMemory opens a private in-memory sqlite database with the schema
// already created. Each call gets its own database.
func OpenMemory(ctx context.Context) (*bun.DB, error) {
	bunDB, err := Open(ctx, config.DatabaseConfig{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		return nil, err
	}
	if err := CreateSchema(ctx, bunDB); err != nil {
		_ = bunDB.Close()
		return nil, err
	}
	return bunDB, nil
}

// schemaModels lists every table in creation order.
var schemaModels = []interface{}{
	(*models.Event)(nil),
	(*models.TicketType)(nil),
	(*models.Transaction)(nil),
	(*models.Ticket)(nil),
	(*models.TicketHolder)(nil),
	(*models.BuyerInfo)(nil),
	(*models.OrderItem)(nil),
	(*models.PaymentRecord)(nil),
	(*models.Wristband)(nil),
	(*models.WristbandScanLog)(nil),
	(*models.AuditLog)(nil),
}

// CreateSchema builds the tables straight from the bun models. Postgres
// deployments use the embedded migrations instead; this serves sqlite.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// InsertAudit appends one audit row using whatever handle the caller holds,
// so it joins the caller's transaction when there is one.
func InsertAudit(ctx context.Context, db bun.IDB, ev models.AuditEvent, now time.Time) error {
	row, err := models.NewAuditLog(ev, now)
	if err != nil {
		return err
	}
	if _, err := db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert %s audit: %w", ev.AuditKind(), err)
	}
	return nil
}

// ListAudit returns audit rows of one kind, oldest first.
func ListAudit(ctx context.Context, db bun.IDB, kind models.AuditKind) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := db.NewSelect().Model(&rows).Where("kind = ?", kind).Order("created_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s audit: %w", kind, err)
	}
	return rows, nil
}
