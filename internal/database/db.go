package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// サポートするドライバ名
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ParseURL はデータベースURLからドライバ名とドライバに渡すDSNを決定する。
//
//	postgres://... / postgresql://...  -> postgres
//	sqlite://path / sqlite3://path / file:... -> sqlite3
//
// SQLiteのDSNには外部キー制約の有効化パラメータを付与する。
func ParseURL(databaseURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		return DriverSQLite, sqliteDSN(strings.TrimPrefix(databaseURL, "sqlite3://")), nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DriverSQLite, sqliteDSN(strings.TrimPrefix(databaseURL, "sqlite://")), nil
	case strings.HasPrefix(databaseURL, "file:"):
		return DriverSQLite, sqliteDSN(databaseURL), nil
	default:
		return "", "", fmt.Errorf("unsupported database url scheme: %q", databaseURL)
	}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=1"
}

// Open はデータベース接続を開く。
// ドライバはURLのスキームから決定する（ParseURL参照）。
// sqlx.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sqlx.DB, error) {
	driver, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLiteは書き込みが直列化されるため、単一接続で運用する。
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}
