package services

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"

	"sqlgateway/internal/dialect"
)

// HandleOptions size the database/sql pool behind each live handle.
type HandleOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
}

// SQLOpener turns a credential URI into a pinged *sql.DB.
type SQLOpener struct {
	opts HandleOptions
}

func NewSQLOpener(opts HandleOptions) *SQLOpener {
	return &SQLOpener{opts: opts}
}

func (o *SQLOpener) Open(ctx context.Context, uri string, d dialect.Dialect) (*sql.DB, error) {
	driverName, dsn, err := driverFor(uri, d)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d, err)
	}

	if o.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.opts.MaxOpenConns)
	}
	if o.opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.opts.MaxIdleConns)
	}
	if o.opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(o.opts.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s target: %w", d, err)
	}

	return db, nil
}

// driverFor maps a URI to a registered database/sql driver and its DSN.
// A "scheme+driver://" suffix is ignored.
func driverFor(uri string, d dialect.Dialect) (string, string, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", "", fmt.Errorf("connection string has no scheme")
	}
	scheme, _, _ = strings.Cut(strings.ToLower(scheme), "+")

	switch d {
	case dialect.Postgres:
		return "pgx", "postgres://" + rest, nil
	case dialect.MySQL:
		dsn, err := mysqlDSN(rest)
		return "mysql", dsn, err
	case dialect.SQLServer:
		dsn, err := sqlServerDSN(rest)
		return "sqlserver", dsn, err
	case dialect.SQLite:
		return "sqlite", sqlitePath(rest), nil
	case dialect.Oracle:
		return "oracle", "oracle://" + rest, nil
	default:
		return scheme, uri, nil
	}
}

func mysqlDSN(rest string) (string, error) {
	u, err := url.Parse("mysql://" + rest)
	if err != nil {
		return "", fmt.Errorf("invalid mysql connection string")
	}

	cfg := mysql.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")

	for key, values := range u.Query() {
		if len(values) == 0 || key == "charset" {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}
		cfg.Params[key] = values[0]
	}

	return cfg.FormatDSN(), nil
}

func sqlServerDSN(rest string) (string, error) {
	u, err := url.Parse("sqlserver://" + rest)
	if err != nil {
		return "", fmt.Errorf("invalid sqlserver connection string")
	}

	query := u.Query()
	if db := strings.TrimPrefix(u.Path, "/"); db != "" && query.Get("database") == "" {
		query.Set("database", db)
	}
	query.Del("driver")
	u.Path = ""
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// sqlitePath follows the sqlite:///relative and sqlite:////absolute forms.
func sqlitePath(rest string) string {
	path := strings.TrimPrefix(rest, "/")
	if path == "" || path == ":memory:" {
		return ":memory:"
	}
	return path
}
