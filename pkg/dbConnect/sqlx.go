package dbconnect

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq"
)

// DriverInstrumented is the New Relic instrumented lib/pq driver
const DriverInstrumented = "nrpostgres"

// DBConfig holds the postgres connection settings
type DBConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            string        `yaml:"port" validate:"required,numeric"`
	Dbuser          string        `yaml:"user" validate:"required"`
	Dbpassword      string        `yaml:"password"`
	Dbname          string        `yaml:"dbname" validate:"required"`
	Sslmode         string        `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	Driver          string        `yaml:"driver" validate:"omitempty,oneof=postgres nrpostgres"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN renders the lib/pq connection string
func (c DBConfig) DSN() string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host,
		c.Port,
		c.Dbuser,
		c.Dbpassword,
		c.Dbname,
		sslmode,
	)
}

func ConnectSqlx(dbConfig DBConfig) (db *sqlx.DB, err error) {
	return ConnectSqlxContext(context.Background(), dbConfig)
}

// ConnectSqlxContext opens the pool and pings it within ctx
func ConnectSqlxContext(ctx context.Context, dbConfig DBConfig) (db *sqlx.DB, err error) {
	driver := dbConfig.Driver
	if driver == "" {
		driver = DriverInstrumented
	}
	db, err = sqlx.ConnectContext(ctx, driver, dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres %s:%s: %w", dbConfig.Host, dbConfig.Port, err)
	}
	if dbConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}
	if dbConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)
	}
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	return
}
