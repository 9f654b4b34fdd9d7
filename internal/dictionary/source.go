package dictionary

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

type Column struct {
	Name     string `bun:"column_name"`
	Type     string `bun:"data_type"`
	Nullable string `bun:"is_nullable"`
}

// Source lists tables and samples rows from a database.
type Source interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	Sample(ctx context.Context, table string, n int) ([]map[string]interface{}, error)
}

// PGSource reads a Postgres schema through information_schema.
type PGSource struct {
	db     *bun.DB
	schema string
}

func NewPGSource(db *bun.DB, schema string) *PGSource {
	if schema == "" {
		schema = "public"
	}
	return &PGSource{db: db, schema: schema}
}

func (s *PGSource) Tables(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.NewSelect().
		TableExpr("information_schema.tables").
		Column("table_name").
		Where("table_schema = ?", s.schema).
		Where("table_type = 'BASE TABLE'").
		Order("table_name").
		Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}

func (s *PGSource) Columns(ctx context.Context, table string) ([]Column, error) {
	var cols []Column
	err := s.db.NewSelect().
		TableExpr("information_schema.columns").
		Column("column_name", "data_type", "is_nullable").
		Where("table_schema = ?", s.schema).
		Where("table_name = ?", table).
		OrderExpr("ordinal_position").
		Scan(ctx, &cols)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return cols, nil
}

func (s *PGSource) Sample(ctx context.Context, table string, n int) ([]map[string]interface{}, error) {
	rows := []map[string]interface{}{}
	if err := s.db.NewRaw(SampleQuery(s.schema, table, n)).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", table, err)
	}
	return rows, nil
}

// SampleQuery selects the first n rows of schema.table with quoted identifiers.
func SampleQuery(schema, table string, n int) string {
	return fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), n)
}
