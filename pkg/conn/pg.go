package conn

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	_defaultHost         = "localhost"
	_defaultPort         = 5432
	_defaultSSLMode      = "disable"
	_defaultMaxOpenConns = 16
	_defaultMaxIdleConns = 4
)

// PostgresOption configures the ledger database connection. DSN, when set,
// overrides the individual fields.
type PostgresOption struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	DSN      string

	MaxOpenConns int
	MaxIdleConns int
}

// Postgres opens a pooled connection and verifies it with a ping.
// TranslateError is always enabled so unique-index violations surface as
// gorm.ErrDuplicatedKey, which the fill ledger relies on for deduplication.
func Postgres(ctx context.Context, opt PostgresOption) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(opt.dsn()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	maxOpen := opt.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = _defaultMaxOpenConns
	}
	maxIdle := opt.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = _defaultMaxIdleConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// ClosePostgres releases the underlying pool. Safe on a nil handle.
func ClosePostgres(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
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
		host = _defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = _defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = _defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()

	return u.String()
}
