package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sqlgateway/internal/dialect"
	"sqlgateway/internal/models"
)

type catalogQueries struct {
	tables      string
	columns     string
	foreignKeys string
	nullable    func(string) bool
}

func yesNullable(v string) bool { return strings.EqualFold(v, "YES") }

var ansiCatalog = catalogQueries{
	tables: `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
			AND table_schema NOT IN ('information_schema', 'pg_catalog', 'sys', 'mysql', 'performance_schema')
		ORDER BY table_name
	`,
	columns: `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = ?
		ORDER BY ordinal_position
	`,
	foreignKeys: `
		SELECT kcu.constraint_name, kcu.column_name, ref.table_name, ref.column_name
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = rc.constraint_name
			AND kcu.constraint_schema = rc.constraint_schema
		JOIN information_schema.key_column_usage ref
			ON ref.constraint_name = rc.unique_constraint_name
			AND ref.constraint_schema = rc.unique_constraint_schema
			AND ref.ordinal_position = kcu.position_in_unique_constraint
		WHERE kcu.table_name = ?
		ORDER BY kcu.constraint_name, kcu.ordinal_position
	`,
	nullable: yesNullable,
}

var catalogByDialect = map[dialect.Dialect]catalogQueries{
	dialect.Postgres: {
		tables: `
			SELECT table_name
			FROM information_schema.tables
			WHERE table_schema = current_schema()
				AND table_type = 'BASE TABLE'
			ORDER BY table_name
		`,
		columns: `
			SELECT column_name, data_type, is_nullable
			FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position
		`,
		foreignKeys: `
			SELECT kcu.constraint_name, kcu.column_name, ref.table_name, ref.column_name
			FROM information_schema.referential_constraints rc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_name = rc.constraint_name
				AND kcu.constraint_schema = rc.constraint_schema
			JOIN information_schema.key_column_usage ref
				ON ref.constraint_name = rc.unique_constraint_name
				AND ref.constraint_schema = rc.unique_constraint_schema
				AND ref.ordinal_position = kcu.position_in_unique_constraint
			WHERE kcu.table_schema = current_schema() AND kcu.table_name = $1
			ORDER BY kcu.constraint_name, kcu.ordinal_position
		`,
		nullable: yesNullable,
	},
	dialect.MySQL: {
		tables: `
			SELECT table_name
			FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
			ORDER BY table_name
		`,
		columns: `
			SELECT column_name, data_type, is_nullable
			FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY ordinal_position
		`,
		foreignKeys: `
			SELECT constraint_name, column_name, referenced_table_name, referenced_column_name
			FROM information_schema.key_column_usage
			WHERE table_schema = DATABASE() AND table_name = ?
				AND referenced_table_name IS NOT NULL
			ORDER BY constraint_name, ordinal_position
		`,
		nullable: yesNullable,
	},
	dialect.SQLServer: {
		tables: `
			SELECT TABLE_NAME
			FROM INFORMATION_SCHEMA.TABLES
			WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = SCHEMA_NAME()
			ORDER BY TABLE_NAME
		`,
		columns: `
			SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
			FROM INFORMATION_SCHEMA.COLUMNS
			WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1
			ORDER BY ORDINAL_POSITION
		`,
		foreignKeys: `
			SELECT fk.name, pc.name, rt.name, rc.name
			FROM sys.foreign_keys fk
			JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
			JOIN sys.tables pt ON pt.object_id = fkc.parent_object_id
			JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
			JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
			JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
			WHERE pt.name = @p1
			ORDER BY fk.name, fkc.constraint_column_id
		`,
		nullable: yesNullable,
	},
	dialect.SQLite: {
		tables: `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`,
		columns: `SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`,
		foreignKeys: `
			SELECT CAST(id AS TEXT), "from", "table", COALESCE("to", '')
			FROM pragma_foreign_key_list(?)
			ORDER BY id, seq
		`,
		nullable: func(notNull string) bool { return notNull == "0" },
	},
	dialect.Oracle: {
		tables:  `SELECT table_name FROM user_tables ORDER BY table_name`,
		columns: `SELECT column_name, data_type, nullable FROM user_tab_columns WHERE table_name = :1 ORDER BY column_id`,
		foreignKeys: `
			SELECT c.constraint_name, cc.column_name, rc.table_name, rcc.column_name
			FROM user_constraints c
			JOIN user_cons_columns cc ON cc.constraint_name = c.constraint_name
			JOIN user_constraints rc ON rc.constraint_name = c.r_constraint_name
			JOIN user_cons_columns rcc ON rcc.constraint_name = rc.constraint_name AND rcc.position = cc.position
			WHERE c.constraint_type = 'R' AND c.table_name = :1
			ORDER BY c.constraint_name, cc.position
		`,
		nullable: func(v string) bool { return v == "Y" },
	},
}

// CatalogRepository introspects a live target through database/sql.
type CatalogRepository struct {
	db      *sql.DB
	dialect dialect.Dialect
	queries catalogQueries
}

func NewCatalogRepository(db *sql.DB, d dialect.Dialect) *CatalogRepository {
	queries, ok := catalogByDialect[d]
	if !ok {
		queries = ansiCatalog
	}
	return &CatalogRepository{db: db, dialect: d, queries: queries}
}

// GetTables returns all user table names
func (r *CatalogRepository) GetTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.queries.tables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tables, nil
}

// GetColumns returns the columns of table in ordinal order
func (r *CatalogRepository) GetColumns(ctx context.Context, table string) ([]models.Column, error) {
	rows, err := r.db.QueryContext(ctx, r.queries.columns, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []models.Column
	for rows.Next() {
		var col models.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, err
		}
		col.Nullable = r.queries.nullable(nullable)
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return columns, nil
}

// GetForeignKeys returns the foreign keys of table, one entry per constraint
func (r *CatalogRepository) GetForeignKeys(ctx context.Context, table string) ([]models.ForeignKey, error) {
	rows, err := r.db.QueryContext(ctx, r.queries.foreignKeys, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []models.ForeignKey
	index := make(map[string]int)
	for rows.Next() {
		var name, from, toTable, to string
		if err := rows.Scan(&name, &from, &toTable, &to); err != nil {
			return nil, err
		}

		i, ok := index[name]
		if !ok {
			i = len(fks)
			index[name] = i
			fks = append(fks, models.ForeignKey{ConstraintName: name, ToTable: toTable})
		}
		fks[i].FromColumns = append(fks[i].FromColumns, from)
		if to != "" {
			fks[i].ToColumns = append(fks[i].ToColumns, to)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return fks, nil
}

// GetSampleRow returns the first row of table rendered as text, or nil when
// the table is empty.
func (r *CatalogRepository) GetSampleRow(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, dialect.SampleRowQuery(r.dialect, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, rows.Err()
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	rendered := make([]string, len(values))
	for i, val := range values {
		rendered[i] = renderValue(val)
	}
	return rendered, nil
}

func renderValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
