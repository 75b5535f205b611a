package dbclient

import (
	"fmt"
	"strings"
	"time"

	"notionsync/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

// buildMySQLDSN constructs a MySQL DSN from a DatabaseConnection.
func buildMySQLDSN(conn domain.DatabaseConnection) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	// Format: user:password@tcp(host:port)/dbname?parseTime=true
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		conn.Username, conn.Password, conn.Host, port, conn.Database,
	)
	if conn.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}

// MySQL renders SQL for MySQL 8.
type MySQL struct{}

func (MySQL) Name() domain.DatabaseDriver { return domain.DatabaseDriverMySQL }

func (MySQL) QuoteIdent(name string) string { return quoteWith(name, "`") }

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) ColumnType(t domain.ColumnType) string {
	switch t {
	case domain.ColumnBoolean:
		return "BOOLEAN"
	case domain.ColumnBigint:
		return "BIGINT"
	case domain.ColumnDouble:
		return "DOUBLE"
	case domain.ColumnTimestamp:
		return "DATETIME(6)"
	case domain.ColumnJSON:
		return "JSON"
	default:
		return "LONGTEXT"
	}
}

func (MySQL) KeyType() string { return "VARCHAR(255)" }

func (MySQL) ParseColumnType(dbType string) domain.ColumnType {
	switch baseType(dbType) {
	case "tinyint", "bool", "boolean":
		return domain.ColumnBoolean
	case "bigint", "int", "integer", "smallint", "mediumint":
		return domain.ColumnBigint
	case "double", "float", "decimal", "real":
		return domain.ColumnDouble
	case "datetime", "timestamp", "date":
		return domain.ColumnTimestamp
	case "json":
		return domain.ColumnJSON
	default:
		return domain.ColumnText
	}
}

func (MySQL) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`
}

func (MySQL) ColumnsQuery() string {
	return `SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`
}

func (d MySQL) UpsertClause(key string, cols []string) string {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == key {
			continue
		}
		q := d.QuoteIdent(c)
		sets = append(sets, q+" = VALUES("+q+")")
	}
	if len(sets) == 0 {
		q := d.QuoteIdent(key)
		return " ON DUPLICATE KEY UPDATE " + q + " = " + q
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// MySQL has no CREATE INDEX IF NOT EXISTS; indexes are only created right
// after their table.
func (d MySQL) CreateIndexSQL(index, table string, columns ...string) string {
	return createIndex(d, "CREATE INDEX", index, table, columns)
}

func (d MySQL) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func (d MySQL) ExpandRelationSQL(e RelationExpansion) (string, []any) {
	overflow := "t." + d.QuoteIdent(domain.ColumnOverflow)
	path := jsonKeyPath(e.Field)
	q := fmt.Sprintf(`INSERT IGNORE INTO %s (%s, %s, %s)
SELECT t.%s, ?, jt.rel
FROM %s AS t,
	JSON_TABLE(%s, %s COLUMNS (rel VARCHAR(255) PATH '$')) AS jt
WHERE JSON_TYPE(JSON_EXTRACT(%s, %s)) = 'ARRAY'
	AND jt.rel IS NOT NULL AND jt.rel <> ''`,
		d.QuoteIdent(e.Junction), d.QuoteIdent(e.OriginColumn), d.QuoteIdent(e.FieldColumn), d.QuoteIdent(e.RelatedColumn),
		d.QuoteIdent(domain.ColumnID),
		d.QuoteIdent(e.OriginTable),
		overflow, quoteString(path+"[*]"),
		overflow, quoteString(path),
	)
	return q, []any{e.Field}
}

func (MySQL) BindTime(t time.Time) any { return t.UTC() }

func (MySQL) PolicyStatements(string, string) []string { return nil }
