package models

type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// ForeignKey is one constraint; composite keys carry several columns.
type ForeignKey struct {
	ConstraintName string
	FromColumns    []string
	ToTable        string
	ToColumns      []string
}

type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	SampleRow   []string
}
