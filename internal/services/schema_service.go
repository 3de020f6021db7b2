package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sqlgateway/internal/dialect"
	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
	"sqlgateway/internal/repositories"
	"sqlgateway/internal/utils"
)

var systemTables = []string{"sysdiagrams", "pg_stat_statements", "sqlite_sequence"}

// Introspector reads catalog metadata from one live target.
type Introspector interface {
	GetTables(ctx context.Context) ([]string, error)
	GetColumns(ctx context.Context, table string) ([]models.Column, error)
	GetForeignKeys(ctx context.Context, table string) ([]models.ForeignKey, error)
	GetSampleRow(ctx context.Context, table string) ([]string, error)
}

// SchemaProber builds the schema and sample digests stored with a target.
type SchemaProber struct {
	log        *logger.Logger
	introspect func(db *sql.DB, d dialect.Dialect) Introspector
}

func NewSchemaProber(log *logger.Logger) *SchemaProber {
	return &SchemaProber{
		log: log,
		introspect: func(db *sql.DB, d dialect.Dialect) Introspector {
			return repositories.NewCatalogRepository(db, d)
		},
	}
}

// Probe walks every user table. A table whose columns cannot be read is left
// out of both digests; a table whose sample fails keeps its schema line.
// Only a failure to list tables is returned as an error.
func (p *SchemaProber) Probe(ctx context.Context, db *sql.DB, d dialect.Dialect) (string, string, error) {
	catalog := p.introspect(db, d)

	tables, err := catalog.GetTables(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to list tables: %w", err)
	}

	var schemaParts, sampleParts []string
	for _, name := range tables {
		if utils.Contains(systemTables, strings.ToLower(name)) {
			continue
		}

		table, err := p.probeTable(ctx, catalog, name)
		if err != nil {
			p.log.Warn("skipping table during schema probe", "table", name, "dialect", d.String(), "error", err)
			continue
		}
		if table == nil {
			continue
		}

		schemaParts = append(schemaParts, schemaLine(table))

		sample, err := catalog.GetSampleRow(ctx, name)
		if err != nil {
			p.log.Warn("failed to sample table", "table", name, "dialect", d.String(), "error", err)
			continue
		}
		if sample != nil {
			sampleParts = append(sampleParts, fmt.Sprintf("Table: %s\n%s\n", name, strings.Join(sample, ", ")))
		}
	}

	p.log.Debug("schema probe finished", "tables", len(tables), "described", len(schemaParts))
	return strings.Join(schemaParts, "\n"), strings.Join(sampleParts, "\n"), nil
}

// probeTable returns nil for a table without columns.
func (p *SchemaProber) probeTable(ctx context.Context, catalog Introspector, name string) (*models.Table, error) {
	columns, err := catalog.GetColumns(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, nil
	}

	fks, err := catalog.GetForeignKeys(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}

	return &models.Table{Name: name, Columns: columns, ForeignKeys: fks}, nil
}

func schemaLine(table *models.Table) string {
	names := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		names[i] = col.Name
	}
	line := fmt.Sprintf("%s: %s", table.Name, strings.Join(names, ", "))

	if len(table.ForeignKeys) == 0 {
		return line
	}

	edges := make([]string, len(table.ForeignKeys))
	for i, fk := range table.ForeignKeys {
		edges[i] = fmt.Sprintf("%s -> %s(%s)", strings.Join(fk.FromColumns, ", "), fk.ToTable, strings.Join(fk.ToColumns, ", "))
	}
	return line + "\n  FK: " + strings.Join(edges, "; ")
}
