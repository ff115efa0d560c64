// Package conn holds shared database connection helpers.
package conn

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresOption defines connection options for PostgreSQL.
type PostgresOption struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// DSN overrides all other fields when set.
	DSN string
	// Silent disables gorm query logging.
	Silent bool
}

// Postgres wraps a PostgreSQL connection pool.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres opens a PostgreSQL connection pool.
func NewPostgres(opt PostgresOption) (*Postgres, error) {
	cfg := &gorm.Config{}
	if opt.Silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(postgres.Open(opt.dsn()), cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// DB returns the underlying gorm handle.
func (p *Postgres) DB() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt PostgresOption) dsn() string {
	if opt.DSN != "" {
		return opt.DSN
	}
	host := opt.Host
	if host == "" {
		host = "localhost"
	}
	port := opt.Port
	if port == 0 {
		port = 5432
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("sslmode=%s", sslMode),
	}
	if opt.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", opt.User))
	}
	if opt.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", opt.Password))
	}
	if opt.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", opt.Database))
	}
	return strings.Join(parts, " ")
}
