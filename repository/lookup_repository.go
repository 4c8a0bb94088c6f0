package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// LookupSource describes a table that database-backed form fields resolve
// labels against. Only registered sources can be queried.
type LookupSource struct {
	Name        string
	Table       string
	IDColumn    string
	LabelColumn string
}

// LookupRow is a resolved (id, label) pair
type LookupRow struct {
	ID    string
	Label string
}

// Lookup source names
const (
	LookupSourceUniversities = "universities"
	LookupSourceEntities     = "entities"
)

var lookupSources = map[string]LookupSource{
	LookupSourceUniversities: {Name: LookupSourceUniversities, Table: "uni_mappings", IDColumn: "uni_id", LabelColumn: "uni_name"},
	LookupSourceEntities:     {Name: LookupSourceEntities, Table: "entities", IDColumn: "id", LabelColumn: "name"},
}

// LookupSourceByName returns a registered source
func LookupSourceByName(name string) (LookupSource, bool) {
	src, ok := lookupSources[strings.ToLower(strings.TrimSpace(name))]
	return src, ok
}

// LookupSourceNames lists the registered source names
func LookupSourceNames() []string {
	return []string{LookupSourceEntities, LookupSourceUniversities}
}

// LookupRepositoryImpl implements LookupRepository. It only reads, and the
// sources have no model of their own.
type LookupRepositoryImpl struct {
	db *gorm.DB
}

func NewLookupRepository(db *gorm.DB) LookupRepository {
	return &LookupRepositoryImpl{db: db}
}

func (r *LookupRepositoryImpl) selectFrom(src LookupSource) string {
	id := pq.QuoteIdentifier(src.IDColumn)
	label := pq.QuoteIdentifier(src.LabelColumn)
	return fmt.Sprintf("SELECT %s AS id, %s AS label FROM %s", id, label, pq.QuoteIdentifier(src.Table))
}

// ExactLabel finds a row whose label equals the input, ignoring case
func (r *LookupRepositoryImpl) ExactLabel(ctx context.Context, src LookupSource, label string) (*LookupRow, error) {
	col := pq.QuoteIdentifier(src.LabelColumn)
	query := r.selectFrom(src) +
		fmt.Sprintf(" WHERE LOWER(%s) = LOWER(CAST(? AS TEXT)) ORDER BY %s ASC LIMIT 1", col, pq.QuoteIdentifier(src.IDColumn))
	return r.first(ctx, query, label)
}

// ContainedLabel finds the longest label contained in the input, ignoring case
func (r *LookupRepositoryImpl) ContainedLabel(ctx context.Context, src LookupSource, input string) (*LookupRow, error) {
	col := pq.QuoteIdentifier(src.LabelColumn)
	query := r.selectFrom(src) +
		fmt.Sprintf(" WHERE %s <> '' AND LOWER(CAST(? AS TEXT)) LIKE '%%' || LOWER(%s) || '%%' ORDER BY LENGTH(%s) DESC, %s ASC LIMIT 1",
			col, col, col, pq.QuoteIdentifier(src.IDColumn))
	return r.first(ctx, query, input)
}

// LabelContaining finds the shortest label that contains the input, ignoring case
func (r *LookupRepositoryImpl) LabelContaining(ctx context.Context, src LookupSource, input string) (*LookupRow, error) {
	col := pq.QuoteIdentifier(src.LabelColumn)
	query := r.selectFrom(src) +
		fmt.Sprintf(" WHERE LOWER(%s) LIKE ? ESCAPE '\\' ORDER BY LENGTH(%s) ASC, %s ASC LIMIT 1",
			col, col, pq.QuoteIdentifier(src.IDColumn))
	return r.first(ctx, query, "%"+likeEscaper.Replace(strings.ToLower(input))+"%")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (r *LookupRepositoryImpl) first(ctx context.Context, query string, arg string) (*LookupRow, error) {
	var rows []LookupRow
	if err := dbFromContext(ctx, r.db).Raw(query, arg).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("lookup query failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
